package relayer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zapcore"

	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/migrations/relayerdb"
	"github.com/omnibridge/bridge-runtime/pkg/pgutil"
)

func setupControlPlane(t *testing.T, owner string) (*controlPlane, *db.Store) {
	t.Helper()
	bunDB, dbCfg, cleanup := pgutil.SetupTestDBWithConfig(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	migrator := migrate.NewMigrator(bunDB, relayerdb.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)

	store, err := db.NewStore(dbCfg.GetConnectionString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Bridge.Owner = owner
	ring := config.NewLogRing(16, zapcore.InfoLevel)
	return newControlPlane(store, nil, cfg, ring), store
}

var testOwnerKey, _ = crypto.GenerateKey()

// signedRequest builds a request carrying the owner-signature headers the
// control plane's EIP-191 auth path expects.
func signedRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	message := fmt.Sprintf("%s %s %s", method, path, ts)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixed))

	sig, err := crypto.Sign(hash.Bytes(), testOwnerKey)
	require.NoError(t, err)
	req.Header.Set("X-Owner-Signature", hex.EncodeToString(sig))
	req.Header.Set("X-Owner-Timestamp", ts)
	return req
}

func TestControlPlaneRejectsUnsignedCalls(t *testing.T) {
	owner := crypto.PubkeyToAddress(testOwnerKey.PublicKey).Hex()
	cp, _ := setupControlPlane(t, owner)

	r := chi.NewRouter()
	cp.routes(r)

	req := httptest.NewRequest(http.MethodPost, "/admin/owner", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestControlPlaneRejectsNonOwnerSigner(t *testing.T) {
	// Owner differs from the signing key's address.
	cp, _ := setupControlPlane(t, "0x0000000000000000000000000000000000000001")

	r := chi.NewRouter()
	cp.routes(r)

	req := signedRequest(t, http.MethodPost, "/admin/owner", map[string]string{
		"owner": "0x0000000000000000000000000000000000000002",
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestControlPlaneSetOwnerAndWhitelist(t *testing.T) {
	owner := crypto.PubkeyToAddress(testOwnerKey.PublicKey).Hex()
	cp, store := setupControlPlane(t, owner)

	r := chi.NewRouter()
	cp.routes(r)

	newOwner := "0x00000000000000000000000000000000000000EE"
	req := signedRequest(t, http.MethodPost, "/admin/owner", map[string]string{"owner": newOwner})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := store.GetConfigValue(context.Background(), configKeyOwner)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(newOwner, string(stored)))

	// The old owner key no longer passes the gate.
	req = signedRequest(t, http.MethodPost, "/admin/whitelist", map[string]string{
		"address": "0x0000000000000000000000000000000000000003",
	})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestControlPlaneWhitelistRoundTrip(t *testing.T) {
	owner := crypto.PubkeyToAddress(testOwnerKey.PublicKey).Hex()
	cp, _ := setupControlPlane(t, owner)

	r := chi.NewRouter()
	cp.routes(r)

	addr := "0x0000000000000000000000000000000000000003"
	req := signedRequest(t, http.MethodPost, "/admin/whitelist", map[string]string{"address": addr})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Whitelist []string `json:"whitelist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Whitelist, 1)

	req = signedRequest(t, http.MethodDelete, "/admin/whitelist", map[string]string{"address": addr})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Whitelist)
}

func TestBuildInfoIsPublic(t *testing.T) {
	owner := crypto.PubkeyToAddress(testOwnerKey.PublicKey).Hex()
	cp, _ := setupControlPlane(t, owner)

	r := chi.NewRouter()
	cp.routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buildinfo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}

func TestListMintOrdersRequiresKey(t *testing.T) {
	owner := crypto.PubkeyToAddress(testOwnerKey.PublicKey).Hex()
	cp, _ := setupControlPlane(t, owner)

	r := chi.NewRouter()
	cp.routes(r)

	req := signedRequest(t, http.MethodGet, "/admin/mint-orders", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
