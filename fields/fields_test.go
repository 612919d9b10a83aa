package fields

import (
	"strconv"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	testCases := []struct {
		descr   string
		service string
		ref     FieldRef
		want    string
		wantErr error
	}{
		{descr: "by id", service: "QUOTE", ref: ID(1), want: "1"},
		{descr: "by name", service: "QUOTE", ref: Name("bidPrice"), want: "1"},
		{descr: "numeric name is an id", service: "QUOTE", ref: Name("2"), want: "2"},
		{descr: "unknown id", service: "QUOTE", ref: ID(999), wantErr: ErrUnknownField},
		{descr: "unknown name", service: "QUOTE", ref: Name("bogus"), wantErr: ErrUnknownField},
		{descr: "unknown service", service: "BOGUS", ref: ID(0), wantErr: ErrUnknownService},
		{descr: "name from another service", service: "QUOTE", ref: Name("strikePrice"), wantErr: ErrUnknownField},
	}

	for i, tc := range testCases {
		got, err := Resolve(tc.service, tc.ref)
		if tc.wantErr != nil {
			assert.Equal(t, tc.wantErr, errors.Cause(err), "test case #%d (%s)", i, tc.descr)
			continue
		}

		require.NoError(t, err, "test case #%d (%s)", i, tc.descr)
		assert.Equal(t, tc.want, got, "test case #%d (%s)", i, tc.descr)
	}
}

func TestRoundTrip(t *testing.T) {
	// id -> name -> id must be the identity for every registered field.
	for _, service := range Services() {
		ids, err := AllIDs(service)
		require.NoError(t, err)

		for _, id := range ids {
			name, ok := FieldName(service, id)
			require.True(t, ok, "service %s id %s", service, id)

			back, ok := FieldID(service, name)
			require.True(t, ok, "service %s name %s", service, name)
			assert.Equal(t, id, back, "service %s", service)
		}
	}
}

func TestAllIDsSorted(t *testing.T) {
	ids, err := AllIDs("QUOTE")
	require.NoError(t, err)

	require.NotEmpty(t, ids)
	assert.Equal(t, "0", ids[0])

	// Numeric ascending, not lexicographic: "10" comes after "9".
	assert.Contains(t, ids, "10")
	prev := -1
	for _, id := range ids {
		n := mustAtoi(t, id)
		assert.Greater(t, n, prev)
		prev = n
	}

	_, err = AllIDs("BOGUS")
	assert.Equal(t, ErrUnknownService, errors.Cause(err))
}

func TestDescribe(t *testing.T) {
	desc, ok := Describe("ACCT_ACTIVITY")
	require.True(t, ok)
	assert.True(t, desc.RequiresAccount)

	desc, ok = Describe("QUOTE")
	require.True(t, ok)
	assert.False(t, desc.RequiresAccount)
	assert.Equal(t, 53, desc.FieldCount)

	_, ok = Describe("BOGUS")
	assert.False(t, ok)
}

func TestBookServices(t *testing.T) {
	for _, service := range []string{"LISTED_BOOK", "NASDAQ_BOOK", "OPTIONS_BOOK", "FUTURES_BOOK", "FOREX_BOOK"} {
		ids, err := AllIDs(service)
		require.NoError(t, err, service)
		assert.Equal(t, []string{"0", "1", "2", "3"}, ids, service)

		name, ok := FieldName(service, "1")
		require.True(t, ok, service)
		assert.Equal(t, "bookTime", name, service)
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()

	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
