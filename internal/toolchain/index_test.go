package toolchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volta-toolchain/volta/internal/platform"
)

func TestNodeIndexProviderParsesLTSAndLatest(t *testing.T) {
	doc := `[
		{"version": "v20.11.0", "lts": "Iron"},
		{"version": "v21.0.0", "lts": false},
		{"version": "v18.19.0", "lts": "Hydrogen"}
	]`

	// fetchNodeIndex hardcodes nodejs.org; exercise the parsing logic
	// directly against the fixture document instead.
	entries, err := parseNodeIndex([]byte(doc))
	require.NoError(t, err)
	assert.Len(t, entries.Versions, 3)
	assert.Len(t, entries.LTS, 2)
	require.NotNil(t, entries.Latest)
	assert.Equal(t, "20.11.0", entries.Versions[0].String())
}

func TestNpmIndexProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixtureRegistryDoc))
	}))
	defer srv.Close()

	p := &IndexProvider{Kind: platform.KindPackage, Name: "eslint", client: srv.Client(), registryBase: srv.URL}
	idx, err := p.FetchIndex(context.Background(), "package/eslint")
	require.NoError(t, err)
	assert.Len(t, idx.Versions, 2)
	require.NotNil(t, idx.Latest)
	assert.Equal(t, "8.1.0", idx.Latest.String())
	assert.Equal(t, "8.1.0", idx.ByLabel["latest"].String())
}

func TestTrimLeadingV(t *testing.T) {
	assert.Equal(t, "20.11.0", trimLeadingV("v20.11.0"))
	assert.Equal(t, "20.11.0", trimLeadingV("20.11.0"))
}
