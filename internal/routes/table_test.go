package routes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, data string) []*Entry {
	t.Helper()
	entries, err := Parse([]byte(data))
	require.NoError(t, err)
	return entries
}

func TestMatchLongestPrefixWins(t *testing.T) {
	table := New(mustParse(t, `{
		"/a":   {"backend": "http://short:1000"},
		"/a/b": {"backend": "http://long:2000"}
	}`))

	entry, ok := table.Match("/a/b/c")
	require.True(t, ok)
	assert.Equal(t, "/a/b", entry.Prefix)
	assert.Equal(t, "long:2000", entry.Backend.Host)

	entry, ok = table.Match("/a/x")
	require.True(t, ok)
	assert.Equal(t, "/a", entry.Prefix)
}

func TestMatchExactPrefix(t *testing.T) {
	table := New(mustParse(t, `{"/users": {"backend": "http://u:1"}}`))

	_, ok := table.Match("/users")
	assert.True(t, ok)
	_, ok = table.Match("/users/42")
	assert.True(t, ok)
	_, ok = table.Match("/user")
	assert.False(t, ok)
}

func TestMatchMiss(t *testing.T) {
	table := New(nil)
	_, ok := table.Match("/anything")
	assert.False(t, ok)
}

func TestReplaceSwapsWholeTable(t *testing.T) {
	table := New(mustParse(t, `{"/old": {"backend": "http://old:1"}}`))

	table.Replace(mustParse(t, `{"/new": {"backend": "http://new:1"}}`))

	_, ok := table.Match("/old")
	assert.False(t, ok)
	entry, ok := table.Match("/new")
	require.True(t, ok)
	assert.Equal(t, "new:1", entry.Backend.Host)
}

func TestParseCanonicalizesBareBackendForm(t *testing.T) {
	entries := mustParse(t, `{"/users": "http://users:5001"}`)
	require.Len(t, entries, 1)
	assert.Equal(t, "/users", entries[0].Prefix)
	assert.Equal(t, "users:5001", entries[0].Backend.Host)
	assert.Nil(t, entries[0].Retries)
	assert.Nil(t, entries[0].Policy)
}

func TestParseOverrides(t *testing.T) {
	entries := mustParse(t, `{
		"/auth": {
			"backend": "http://auth:5002",
			"retries": 5,
			"retry_delay": 0.2,
			"timeout": 2.0,
			"header_policy": {
				"remove": ["x-remove-this"],
				"set": {"x-api": "auth-service"},
				"append": {"x-version": "1.0"}
			}
		}
	}`)
	require.Len(t, entries, 1)
	e := entries[0]
	require.NotNil(t, e.Retries)
	assert.Equal(t, 5, *e.Retries)
	require.NotNil(t, e.RetryDelay)
	assert.Equal(t, 200*time.Millisecond, *e.RetryDelay)
	require.NotNil(t, e.Timeout)
	assert.Equal(t, 2*time.Second, *e.Timeout)
	require.NotNil(t, e.Policy)
	assert.Equal(t, []string{"x-remove-this"}, e.Policy.RemoveList())
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not an object":   `[]`,
		"empty prefix":    `{"": {"backend": "http://x:1"}}`,
		"no slash prefix": `{"users": {"backend": "http://x:1"}}`,
		"missing backend": `{"/a": {}}`,
		"bad backend url": `{"/a": {"backend": "not a url"}}`,
		"negative retry":  `{"/a": {"backend": "http://x:1", "retries": -1}}`,
		"zero timeout":    `{"/a": {"backend": "http://x:1", "timeout": 0}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestMarshalTableRoundTrips(t *testing.T) {
	src := `{
		"/api": {"backend": "http://api:5001"},
		"/auth": {
			"backend": "http://auth:5002",
			"retries": 3,
			"header_policy": {"set": {"x-api": "auth-service"}}
		}
	}`
	entries := mustParse(t, src)

	data, err := MarshalTable(entries)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "/api")
	assert.Contains(t, decoded, "/auth")
	assert.Equal(t, "http://auth:5002", decoded["/auth"]["backend"])

	reparsed, err := Parse(data)
	require.NoError(t, err)
	assert.Len(t, reparsed, 2)
}

func TestSnapshotIsSorted(t *testing.T) {
	table := New(mustParse(t, `{
		"/z": {"backend": "http://z:1"},
		"/a": {"backend": "http://a:1"}
	}`))
	snap := table.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "/a", snap[0].Prefix)
	assert.Equal(t, "/z", snap[1].Prefix)
}
