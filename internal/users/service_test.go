package users

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/db/dbtest"
	"github.com/accountable/accountable-backend/pkg/db/models"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/storage/gcs"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type fakeStore struct {
	uploaded    []string
	deleted     []string
	contentType string
	uploadErr   error
}

func (f *fakeStore) Upload(ctx context.Context, object, contentType string, body io.Reader) (*gcs.Object, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = append(f.uploaded, object)
	f.contentType = contentType
	return &gcs.Object{
		Bucket:      "bucket",
		Name:        object,
		ContentType: contentType,
		PublicURL:   "https://cdn.test/bucket/" + object,
	}, nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, bucket, object string) error {
	f.deleted = append(f.deleted, object)
	return nil
}

func newTestService(t *testing.T, store gcs.ObjectStore) (Service, Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(ServiceParams{Repo: repo, Store: store, MaxAvatarBytes: 1024})
	require.NoError(t, err)
	return svc, repo
}

func seedUser(t *testing.T, repo Repository, email string) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New(), Email: email, FirstName: "Ada", LastName: "Lovelace", TimeZone: "UTC"}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestServiceGet(t *testing.T) {
	svc, repo := newTestService(t, nil)
	user := seedUser(t, repo, "ada@example.com")

	got, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "Ada", got.FirstName)

	_, err = svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestServiceCreate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	caller := uuid.New()

	created, err := svc.Create(context.Background(), caller, CreateProfileInput{
		Email:     " Bob@Example.com ",
		FirstName: " Bob ",
		TimeZone:  "Not/AZone",
	})
	require.NoError(t, err)
	assert.Equal(t, caller, created.ID)
	assert.Equal(t, "bob@example.com", created.Email)
	assert.Equal(t, "Bob", created.FirstName)
	assert.Equal(t, "UTC", created.TimeZone)

	_, err = svc.Create(context.Background(), caller, CreateProfileInput{Email: "bob@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestServiceCreateRejectsOtherUser(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Create(context.Background(), uuid.New(), CreateProfileInput{ID: uuid.New(), Email: "x@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.Create(context.Background(), uuid.Nil, CreateProfileInput{Email: "x@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestServiceUpdate(t *testing.T) {
	svc, repo := newTestService(t, nil)
	user := seedUser(t, repo, "ada@example.com")

	bio := "  counting engines  "
	tz := "Europe/London"
	updated, err := svc.Update(context.Background(), user.ID, user.ID, UpdateProfileInput{Bio: &bio, TimeZone: &tz})
	require.NoError(t, err)
	require.NotNil(t, updated.Bio)
	assert.Equal(t, "counting engines", *updated.Bio)
	assert.Equal(t, "Europe/London", updated.TimeZone)
	assert.Equal(t, "Ada", updated.FirstName)

	empty := ""
	cleared, err := svc.Update(context.Background(), user.ID, user.ID, UpdateProfileInput{Bio: &empty})
	require.NoError(t, err)
	assert.Nil(t, cleared.Bio)

	_, err = svc.Update(context.Background(), uuid.New(), user.ID, UpdateProfileInput{Bio: &bio})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestServiceUploadAvatar(t *testing.T) {
	store := &fakeStore{}
	svc, repo := newTestService(t, store)
	user := seedUser(t, repo, "ada@example.com")

	profile, err := svc.UploadAvatar(context.Background(), user.ID, strings.NewReader(string(pngHeader)))
	require.NoError(t, err)
	require.Len(t, store.uploaded, 1)
	assert.True(t, strings.HasPrefix(store.uploaded[0], "avatars/"+user.ID.String()+"/"))
	assert.True(t, strings.HasSuffix(store.uploaded[0], ".png"))
	assert.Equal(t, "image/png", store.contentType)
	require.NotNil(t, profile.AvatarURL)
	assert.Equal(t, "https://cdn.test/bucket/"+store.uploaded[0], *profile.AvatarURL)
}

func TestServiceUploadAvatarRejectsNonImage(t *testing.T) {
	store := &fakeStore{}
	svc, repo := newTestService(t, store)
	user := seedUser(t, repo, "ada@example.com")

	_, err := svc.UploadAvatar(context.Background(), user.ID, strings.NewReader("%PDF-1.4 not an image"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, store.uploaded)
}

func TestServiceUploadAvatarRejectsOversize(t *testing.T) {
	store := &fakeStore{}
	svc, repo := newTestService(t, store)
	user := seedUser(t, repo, "ada@example.com")

	body := string(pngHeader) + strings.Repeat("a", 2048)
	_, err := svc.UploadAvatar(context.Background(), user.ID, strings.NewReader(body))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, store.uploaded)
}

func TestServiceUploadAvatarStorageFailure(t *testing.T) {
	store := &fakeStore{uploadErr: errors.New("boom")}
	svc, repo := newTestService(t, store)
	user := seedUser(t, repo, "ada@example.com")

	_, err := svc.UploadAvatar(context.Background(), user.ID, strings.NewReader(string(pngHeader)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestServiceUploadAvatarWithoutStore(t *testing.T) {
	svc, repo := newTestService(t, nil)
	user := seedUser(t, repo, "ada@example.com")

	_, err := svc.UploadAvatar(context.Background(), user.ID, strings.NewReader(string(pngHeader)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", DisplayName(&models.User{FirstName: "Ada", LastName: "Lovelace"}))
	assert.Equal(t, "ada", DisplayName(&models.User{Email: "ada@example.com"}))
	assert.Equal(t, "", DisplayName(nil))
}

func TestRepositoryFindByIDs(t *testing.T) {
	_, repo := newTestService(t, nil)
	a := seedUser(t, repo, "a@example.com")
	b := seedUser(t, repo, "b@example.com")

	found, err := repo.FindByIDs(context.Background(), []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "b@example.com", found[b.ID].Email)

	byEmail, err := repo.FindByEmail(context.Background(), "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byEmail.ID)
}

func TestServiceSearchMatchesPartialEmailExcludingCaller(t *testing.T) {
	svc, repo := newTestService(t, nil)
	caller := seedUser(t, repo, "ada@example.com")
	grace := seedUser(t, repo, "Grace.Hopper@Example.com")
	alan := seedUser(t, repo, "alan@example.org")
	seedUser(t, repo, "nobody@elsewhere.net")

	found, err := svc.Search(context.Background(), caller.ID, "  EXAMPLE  ")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, alan.ID, found[0].ID)
	assert.Equal(t, grace.ID, found[1].ID)

	found, err = svc.Search(context.Background(), caller.ID, "hopper")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Grace.Hopper@Example.com", found[0].Email)
}

func TestServiceSearchTreatsWildcardsLiterally(t *testing.T) {
	svc, repo := newTestService(t, nil)
	caller := seedUser(t, repo, "ada@example.com")
	seedUser(t, repo, "atoll@example.com")
	under := seedUser(t, repo, "first_last@example.com")

	found, err := svc.Search(context.Background(), caller.ID, "%%%")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = svc.Search(context.Background(), caller.ID, "t_l")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, under.ID, found[0].ID)
}

func TestServiceSearchRejectsShortQuery(t *testing.T) {
	svc, repo := newTestService(t, nil)
	caller := seedUser(t, repo, "ada@example.com")

	_, err := svc.Search(context.Background(), caller.ID, " ab ")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Contains(t, err.Error(), "at least 3 characters")

	_, err = svc.Search(context.Background(), uuid.Nil, "example")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}
