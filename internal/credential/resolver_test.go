package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows  map[string]map[string]string
	calls int
	err   error
}

func (f *fakeStore) BranchCredentials(_ context.Context, branch string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[branch]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return row, nil
}

func newTestResolver(store BranchStore) *Resolver {
	return NewResolver(DefaultSchemas(), map[string]map[string]string{
		"monroe": {SoftwareKey: "global-sw"},
	}, store)
}

func TestResolve_OverlayOrder(t *testing.T) {
	store := &fakeStore{rows: map[string]map[string]string{
		"SA3": {
			"monroe_software_key":  "branch-sw",
			"monroe_ecommerce_key": "branch-ck",
			"monroe_cuenta":        "4501",
		},
	}}
	r := newTestResolver(store)

	tup, err := r.Resolve(context.Background(), "monroe", " sa 3", map[string]string{
		"ecommerce_customer_key": "override-ck",
	})
	require.NoError(t, err)
	assert.Equal(t, "SA3", tup.Branch)
	assert.Equal(t, "override-ck", tup.Get(CustomerKey), "override wins")
	assert.Equal(t, "branch-sw", tup.Get(SoftwareKey), "branch value beats default")
	assert.Equal(t, "4501", tup.Get(CustomerReference))
	assert.Equal(t, []string{CustomerReference}, tup.Identity)
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	store := &fakeStore{rows: map[string]map[string]string{
		"SA1": {"monroe_ecommerce_key": "ck", "monroe_cuenta": "1", "monroe_software_key": "   "},
	}}
	tup, err := newTestResolver(store).Resolve(context.Background(), "monroe", "SA1", nil)
	require.NoError(t, err)
	assert.Equal(t, "global-sw", tup.Get(SoftwareKey))
}

func TestResolve_MissingRequiredField(t *testing.T) {
	store := &fakeStore{rows: map[string]map[string]string{
		"SA1": {"monroe_cuenta": "1"},
	}}
	_, err := newTestResolver(store).Resolve(context.Background(), "monroe", "SA1", nil)

	var mce *MissingCredentialError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, CustomerKey, mce.Field)
	assert.Equal(t, "SA1", mce.Branch)
}

func TestResolve_OptionalFieldOmitted(t *testing.T) {
	store := &fakeStore{rows: map[string]map[string]string{
		"SA1": {"suizo_usuario": "u", "suizo_clave": "p"},
	}}
	tup, err := newTestResolver(store).Resolve(context.Background(), "suizo", "SA1", nil)
	require.NoError(t, err)
	_, ok := tup.Fields[Account]
	assert.False(t, ok)
}

func TestResolve_Errors(t *testing.T) {
	r := newTestResolver(&fakeStore{})

	_, err := r.Resolve(context.Background(), "monroe", "  ", nil)
	assert.ErrorIs(t, err, ErrBranchRequired)

	_, err = r.Resolve(context.Background(), "acme", "SA1", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = r.Resolve(context.Background(), "monroe", "SA404", nil)
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestResolve_CachesBranchRows(t *testing.T) {
	store := &fakeStore{rows: map[string]map[string]string{
		"SA1": {"cofarsur_usuario": "u", "cofarsur_clave": "p", "cofarsur_token": "t"},
	}}
	r := newTestResolver(store)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "cofarsur", "sa1", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.calls)
}

func TestResolve_NilStoreUsesOverrides(t *testing.T) {
	r := newTestResolver(nil)
	tup, err := r.Resolve(context.Background(), "kellerhoff", "SA1", map[string]string{
		"usuario": "ops@pharmacy.test",
		"clave":   "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "ops@pharmacy.test", tup.Get(Email))
}

func TestTuple_CacheKeyIgnoresSecrets(t *testing.T) {
	schema := DefaultSchemas()["monroe"]
	a := Tuple{Provider: "monroe", Branch: "SA1", Identity: schema.Identity(), Fields: map[string]string{
		CustomerReference: "4501", SoftwareKey: "old",
	}}
	b := a
	b.Fields = map[string]string{CustomerReference: "4501", SoftwareKey: "rotated"}
	assert.Equal(t, a.CacheKey(), b.CacheKey())

	c := a
	c.Branch = "SA2"
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
}

func TestSchema_Mask(t *testing.T) {
	schema := DefaultSchemas()["monroe"]
	tup := Tuple{Fields: map[string]string{SoftwareKey: "ABCDEFGH", CustomerKey: "xy", CustomerReference: "4501"}}
	masked := schema.Mask(tup)
	assert.Equal(t, "ABCD…", masked[SoftwareKey])
	assert.Equal(t, "****", masked[CustomerKey])
	assert.Equal(t, "4501", masked[CustomerReference])
}

func TestResolveShared(t *testing.T) {
	r := NewResolver(DefaultSchemas(), map[string]map[string]string{
		"kellerhoff": {Email: "compras@example.com", Password: "secret"},
	}, &fakeStore{})

	tup, err := r.ResolveShared("kellerhoff", map[string]string{"cliente": "7788"})
	require.NoError(t, err)
	assert.Empty(t, tup.Branch)
	assert.Equal(t, "compras@example.com", tup.Get(Email))
	assert.Equal(t, "7788", tup.Get(PharmacyReference))

	_, err = r.ResolveShared("cofarsur", nil)
	var missing *MissingCredentialError
	assert.ErrorAs(t, err, &missing)

	_, err = r.ResolveShared("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
