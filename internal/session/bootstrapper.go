package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/gateway"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
)

const defaultProfileTimeout = 8 * time.Second

// Profile is the best known profile for the signed-in identity. Complete is
// false while it is still synthesized from identity metadata.
type Profile struct {
	users.ProfileDTO
	Complete bool `json:"complete"`
}

// State is a read-only snapshot handed to subscribers.
type State struct {
	Session *gateway.Session
	Profile *Profile
	Loading bool
	// Err is set only when the session lookup itself failed.
	Err *gateway.Failure

	version uint64
}

func (s State) Anonymous() bool {
	return !s.Loading && s.Session == nil
}

func (s State) UserID() uuid.UUID {
	if s.Session == nil {
		return uuid.Nil
	}
	return s.Session.User.ID
}

type Params struct {
	Auth     gateway.Auth
	Profiles gateway.Profiles
	Config   config.SessionConfig
	Logger   *logger.Logger
	// SkipProfileCreation disables creating a missing profile in the background.
	SkipProfileCreation bool
}

// Bootstrapper resolves the current identity into a profile and keeps that
// answer current across auth events. Loading always clears within the
// configured profile timeout once the session lookup has returned.
type Bootstrapper struct {
	auth          gateway.Auth
	profiles      gateway.Profiles
	timeout       time.Duration
	logg          *logger.Logger
	createMissing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	generation  uint64
	version     uint64
	stopAuth    func()
	disposed    bool
	subscribers map[uint64]func(State)
	nextSub     uint64

	notifyMu  sync.Mutex
	delivered uint64
}

func New(p Params) (*Bootstrapper, error) {
	if p.Auth == nil {
		return nil, errors.New("auth gateway required")
	}
	if p.Profiles == nil {
		return nil, errors.New("profiles gateway required")
	}
	timeout := p.Config.ProfileTimeout
	if timeout <= 0 {
		timeout = defaultProfileTimeout
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bootstrapper{
		auth:          p.Auth,
		profiles:      p.Profiles,
		timeout:       timeout,
		logg:          logg,
		createMissing: !p.SkipProfileCreation,
		ctx:           ctx,
		cancel:        cancel,
		subscribers:   map[uint64]func(State){},
	}, nil
}

// Init looks up the current session and starts following auth events. Only a
// failed session lookup is returned; profile problems never are.
func (b *Bootstrapper) Init(ctx context.Context) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return errors.New("bootstrapper disposed")
	}
	if b.stopAuth == nil {
		b.stopAuth = b.auth.OnAuthStateChange(b.handleAuthEvent)
	}
	b.generation++
	gen := b.generation
	b.state.Loading = true
	b.state.Err = nil
	snapshot := b.commitLocked()
	b.mu.Unlock()
	b.publish(snapshot)

	res := b.lookupSession(ctx)
	session, ok := res.Value()
	if !ok {
		failure := res.Error()
		b.mu.Lock()
		if gen != b.generation || b.disposed {
			b.mu.Unlock()
			return failure
		}
		b.state = State{Err: failure}
		snapshot := b.commitLocked()
		b.mu.Unlock()
		b.logg.Error(ctx, "session.lookup_failed", failure)
		b.publish(snapshot)
		return failure
	}

	b.apply(gen, session)
	return nil
}

// lookupSession bounds GetSession by the same guard as the profile fetch. A
// lookup that outlives it is canceled and reported as transient.
func (b *Bootstrapper) lookupSession(ctx context.Context) gateway.Result[*gateway.Session] {
	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan gateway.Result[*gateway.Session], 1)
	go func() {
		results <- b.auth.GetSession(lookupCtx)
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res
	case <-timer.C:
		b.logg.Warn(ctx, "session.lookup_timeout")
		return gateway.Err[*gateway.Session](gateway.KindTransient, "session lookup timed out")
	case <-ctx.Done():
		return gateway.FromError[*gateway.Session](ctx.Err())
	}
}

// State returns the latest snapshot.
func (b *Bootstrapper) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe calls fn with the current state and then with every change until
// the returned func is called.
func (b *Bootstrapper) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	current := b.state
	b.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Dispose stops following auth events and waits for background profile work.
func (b *Bootstrapper) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	stop := b.stopAuth
	b.stopAuth = nil
	b.subscribers = map[uint64]func(State){}
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	b.cancel()
	b.wg.Wait()
}

func (b *Bootstrapper) handleAuthEvent(event enums.AuthEvent, session *gateway.Session) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.generation++
	gen := b.generation
	b.mu.Unlock()

	b.logg.Info(b.logg.WithField(b.ctx, "auth_event", string(event)), "session.auth_event")
	if !event.CarriesSession() {
		session = nil
	}
	b.apply(gen, session)
}

// apply moves to Anonymous or starts the profile load for session. A full
// profile already held for the same user is kept while it is refetched.
func (b *Bootstrapper) apply(gen uint64, session *gateway.Session) {
	b.mu.Lock()
	if gen != b.generation || b.disposed {
		b.mu.Unlock()
		return
	}
	if session == nil {
		b.state = State{}
		snapshot := b.commitLocked()
		b.mu.Unlock()
		b.publish(snapshot)
		return
	}

	previous := b.state.Profile
	next := State{Session: session, Loading: true}
	if previous != nil && previous.Complete && previous.ID == session.User.ID {
		next.Profile = previous
		next.Loading = false
	} else {
		next.Profile = minimalProfile(session)
	}
	b.state = next
	snapshot := b.commitLocked()
	b.wg.Add(1)
	b.mu.Unlock()

	b.publish(snapshot)
	go b.loadProfile(gen, session)
}

// loadProfile races the fetch against the timeout guard. After the guard fires
// a late profile may still upgrade the minimal one.
func (b *Bootstrapper) loadProfile(gen uint64, session *gateway.Session) {
	defer b.wg.Done()

	results := make(chan gateway.Result[*users.ProfileDTO], 1)
	go func() {
		results <- b.profiles.Get(b.ctx, session.User.ID)
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	for {
		select {
		case res := <-results:
			b.settleProfile(gen, session, res)
			return
		case <-timer.C:
			b.settleTimeout(gen)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bootstrapper) settleTimeout(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || !b.state.Loading {
		b.mu.Unlock()
		return
	}
	b.state.Loading = false
	snapshot := b.commitLocked()
	b.mu.Unlock()

	b.logg.Warn(b.ctx, "session.profile_timeout: continuing with minimal profile")
	b.publish(snapshot)
}

func (b *Bootstrapper) settleProfile(gen uint64, session *gateway.Session, res gateway.Result[*users.ProfileDTO]) {
	profile, ok := res.Value()
	failure := res.Error()

	b.mu.Lock()
	if gen != b.generation || b.disposed {
		b.mu.Unlock()
		return
	}
	b.state.Loading = false
	if ok && profile != nil {
		b.state.Profile = &Profile{ProfileDTO: *profile, Complete: true}
	}
	snapshot := b.commitLocked()
	create := !ok && failure.Kind == gateway.KindNotFound && b.createMissing
	if create {
		b.wg.Add(1)
	}
	b.mu.Unlock()

	switch {
	case ok:
	case failure.Kind == gateway.KindNotFound:
		b.logg.Info(b.ctx, "session.profile_missing")
	default:
		b.logg.Error(b.ctx, "session.profile_fetch_failed", failure)
	}
	b.publish(snapshot)

	if create {
		go b.createProfile(gen, session)
	}
}

// createProfile is fire and forget. A created profile replaces the minimal one
// if the session is still current.
func (b *Bootstrapper) createProfile(gen uint64, session *gateway.Session) {
	defer b.wg.Done()

	meta := session.User.Metadata
	res := b.profiles.Create(b.ctx, users.CreateProfileInput{
		ID:        session.User.ID,
		Email:     session.User.Email,
		FirstName: meta.FirstName,
		LastName:  meta.LastName,
		TimeZone:  meta.TimeZone,
	})
	profile, ok := res.Value()
	if !ok {
		b.logg.Error(b.ctx, "session.profile_create_failed", res.Error())
		return
	}
	if profile == nil {
		return
	}

	b.mu.Lock()
	if gen != b.generation || b.disposed || (b.state.Profile != nil && b.state.Profile.Complete) {
		b.mu.Unlock()
		return
	}
	b.state.Profile = &Profile{ProfileDTO: *profile, Complete: true}
	snapshot := b.commitLocked()
	b.mu.Unlock()
	b.publish(snapshot)
}

func (b *Bootstrapper) commitLocked() State {
	b.version++
	b.state.version = b.version
	return b.state
}

// publish delivers snapshots in commit order, dropping any that a newer
// delivery already superseded.
func (b *Bootstrapper) publish(snapshot State) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	if snapshot.version <= b.delivered {
		return
	}
	b.delivered = snapshot.version

	b.mu.Lock()
	subscribers := make([]func(State), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subscribers = append(subscribers, fn)
	}
	b.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
}

func minimalProfile(session *gateway.Session) *Profile {
	user := session.User
	return &Profile{
		ProfileDTO: users.ProfileDTO{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.Metadata.FirstName,
			LastName:  user.Metadata.LastName,
			TimeZone:  user.Metadata.TimeZone,
			CreatedAt: user.CreatedAt,
		},
	}
}
