package testhelpers

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/chinmina/waste-bridge/internal/fakevendor"
)

// APIPrefix is the path below which the mock vendor serves its routes,
// matching the production base URL layout.
const APIPrefix = "/api/v1/open-api"

// TokenKey signs the tokens minted by the mock vendor.
var TokenKey = []byte("test-signing-key-0123456789abcdef")

// MockVendorServer provides a configurable mock vendor API server for
// testing. Responses and failures are configured on the embedded fake.
type MockVendorServer struct {
	*fakevendor.Server
	HTTP *httptest.Server
}

// SetupMockVendorServer starts a mock vendor API server. It is closed
// automatically when the test ends.
func SetupMockVendorServer(t *testing.T) *MockVendorServer {
	t.Helper()

	fake := fakevendor.New(TokenKey)
	mock := &MockVendorServer{
		Server: fake,
		HTTP:   httptest.NewServer(fake.Handler(APIPrefix)),
	}
	t.Cleanup(mock.Close)

	return mock
}

// BaseURL is the vendor base URL to configure clients with.
func (m *MockVendorServer) BaseURL() string {
	return m.HTTP.URL + APIPrefix
}

// VendorConfig returns a client configuration pointing at the mock.
func (m *MockVendorServer) VendorConfig() config.VendorConfig {
	return config.VendorConfig{
		BaseURL:   m.BaseURL(),
		BrandName: "Affarsverken",
		Timeout:   5 * time.Second,
	}
}

// Close shuts down the mock server.
func (m *MockVendorServer) Close() {
	m.HTTP.Close()
}
