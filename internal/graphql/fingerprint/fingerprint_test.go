package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "collapses whitespace runs",
			query: "query   GetUser  { user }",
			want:  "query GetUser{user}",
		},
		{
			name:  "strips comments",
			query: "query { # fetch the user\n user }",
			want:  "query{user}",
		},
		{
			name:  "removes whitespace around punctuation",
			query: "{ user ( id : 1 ) { name , email } }",
			want:  "{user(id:1){name,email}}",
		},
		{
			name:  "trims surrounding whitespace",
			query: "  { a }  ",
			want:  "{a}",
		},
		{
			name:  "empty input",
			query: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.query))
		})
	}
}

func TestHash(t *testing.T) {
	t.Parallel()

	t.Run("whitespace-only edits produce the same hash", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, Hash("{ a }"), Hash("{a}"))
		assert.Equal(t, Hash("query GetUser { user { id } }"), Hash("query GetUser{user{id}}"))
	})

	t.Run("token changes produce a different hash", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t, Hash("{ a }"), Hash("{ b }"))
	})

	t.Run("output is 8 lowercase hex characters", func(t *testing.T) {
		t.Parallel()
		h := Hash("{ user { id name } }")
		require.Len(t, h, 8)
		assert.Equal(t, strings.ToLower(h), h)
		for _, c := range h {
			assert.Contains(t, "0123456789abcdef", string(c))
		}
	})
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	t.Run("short text is returned unchanged", func(t *testing.T) {
		t.Parallel()
		q := "{ user { id } }"
		assert.Equal(t, q, Truncate(q, 100))
	})

	t.Run("result never exceeds maxSize plus marker", func(t *testing.T) {
		t.Parallel()
		q := strings.Repeat("{field,", 100)
		got := Truncate(q, 100)
		assert.LessOrEqual(t, len(got), 100+len(TruncationMarker))
		assert.True(t, strings.HasSuffix(got, TruncationMarker))
	})

	t.Run("cuts at a clean boundary when one is near", func(t *testing.T) {
		t.Parallel()
		q := "{aaa}{bbb}" + strings.Repeat("x", 200)
		got := Truncate(q, 100)
		body := strings.TrimSuffix(got, TruncationMarker)
		// No boundary within the backscan window, so the cut falls back.
		assert.Len(t, body, 50)

		q2 := strings.Repeat("{a},", 50) // boundaries everywhere
		got2 := Truncate(q2, 100)
		body2 := strings.TrimSuffix(got2, TruncationMarker)
		last := body2[len(body2)-1]
		assert.True(t, last == '}' || last == ',')
	})
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "named query", query: "query GetUser { user }", want: "GetUser"},
		{name: "named mutation", query: "mutation CreatePost($in: PostInput!) { createPost }", want: "CreatePost"},
		{name: "named subscription", query: "subscription OnMessage { messageAdded }", want: "OnMessage"},
		{name: "anonymous operation", query: "query { user }", want: ""},
		{name: "shorthand operation", query: "{ user }", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, OperationName(tt.query))
		})
	}
}

func TestOperationType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "query keyword", query: "query GetUser { user }", want: OperationQuery},
		{name: "mutation keyword", query: "mutation { createPost }", want: OperationMutation},
		{name: "subscription keyword", query: "subscription { messageAdded }", want: OperationSubscription},
		{name: "shorthand defaults to query", query: "{ user }", want: OperationQuery},
		{name: "leading whitespace", query: "   mutation M { m }", want: OperationMutation},
		{name: "leading comment", query: "# comment\nsubscription S { s }", want: OperationSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, OperationType(tt.query))
		})
	}
}

func TestIsIntrospection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{name: "schema field", query: "{ __schema { types { name } } }", want: true},
		{name: "schema field mixed case", query: "{ __SCHEMA { types { name } } }", want: true},
		{name: "type with arguments", query: `{ __type(name: "User") { name } }`, want: true},
		{name: "type with selection", query: "{ __type { name } }", want: true},
		{name: "named introspection query", query: "query IntrospectionQuery { __schema { types { name } } }", want: true},
		{name: "typename is not introspection", query: "{ __typename }", want: false},
		{name: "typename inside selection", query: "{ user { __typename id } }", want: false},
		{name: "ordinary query", query: "{ user { id } }", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsIntrospection(tt.query))
		})
	}
}

func TestCountFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "flat selection", query: "{ a b c }", want: 3},
		{name: "nested selection", query: "{ user { id name } }", want: 3},
		{name: "arguments are not counted", query: "{ user(id: $id, role: ADMIN) { name } }", want: 2},
		{name: "empty", query: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CountFields(tt.query))
		})
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	fp := Analyze("query GetUser { user { id } }", 1024)
	assert.Equal(t, "GetUser", fp.OperationName)
	assert.Equal(t, OperationQuery, fp.OperationType)
	assert.Equal(t, "query GetUser{user{id}}", fp.Query)
	assert.Equal(t, Hash("query GetUser { user { id } }"), fp.Hash)
}
