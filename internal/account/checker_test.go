package account_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/account"
	"github.com/bbtraining/checkout-api/internal/cache"
	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/debounce"
)

type fakeDirectory struct {
	lookups int32
	known   map[string]int64
	failing bool
}

func (f *fakeDirectory) FindCustomerByEmail(_ context.Context, email string) (*commerce.Customer, error) {
	atomic.AddInt32(&f.lookups, 1)
	if f.failing {
		return nil, errors.New("store down")
	}
	if id, ok := f.known[email]; ok {
		return &commerce.Customer{ID: id, Email: email}, nil
	}
	return nil, nil
}

func (f *fakeDirectory) CreateCustomer(_ context.Context, in commerce.NewCustomer) (commerce.Customer, error) {
	return commerce.Customer{ID: 99, Email: in.Email}, nil
}

func newChecker(t *testing.T, dir account.Directory) *account.Checker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return account.NewChecker(dir, cache.NewJSON(rdb, time.Minute), zerolog.Nop())
}

func TestExistsCachesLookups(t *testing.T) {
	dir := &fakeDirectory{known: map[string]int64{"ana@example.com": 7}}
	c := newChecker(t, dir)
	ctx := context.Background()

	ok, err := c.Exists(ctx, " Ana@Example.com ")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Exists(ctx, "ana@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, atomic.LoadInt32(&dir.lookups))

	ok, err = c.Exists(ctx, "new@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegisterOverwritesNegativeCache(t *testing.T) {
	dir := &fakeDirectory{}
	c := newChecker(t, dir)
	ctx := context.Background()

	_, exists, err := c.Lookup(ctx, "new@example.com")
	require.NoError(t, err)
	require.False(t, exists)

	created, err := c.Register(ctx, commerce.NewCustomer{Email: "NEW@example.com"})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", created.Email)

	id, exists, err := c.Lookup(ctx, "new@example.com")
	require.NoError(t, err)
	require.True(t, exists)
	require.EqualValues(t, 99, id)
	require.EqualValues(t, 1, atomic.LoadInt32(&dir.lookups))
}

func TestExistsRejectsMalformedEmail(t *testing.T) {
	c := newChecker(t, &fakeDirectory{})
	_, err := c.Exists(context.Background(), "not-an-email")
	require.ErrorIs(t, err, account.ErrInvalidEmail)
}

func TestExistsSurfacesStoreErrors(t *testing.T) {
	c := newChecker(t, &fakeDirectory{failing: true})
	_, err := c.Exists(context.Background(), "a@example.com")
	require.Error(t, err)
}

func TestTypeaheadOnlyChecksLatestEmail(t *testing.T) {
	dir := &fakeDirectory{known: map[string]int64{"ana@example.com": 7}}
	p := account.NewTypeahead(newChecker(t, dir), 10*time.Millisecond)
	ctx := context.Background()

	first := p.Check(ctx, "ana@exa")
	latest := p.Check(ctx, "ana@example.com")

	r := <-first
	require.ErrorIs(t, r.Err, debounce.ErrSuperseded)
	r = <-latest
	require.NoError(t, r.Err)
	require.True(t, r.Value)
	require.EqualValues(t, 1, atomic.LoadInt32(&dir.lookups))
}
