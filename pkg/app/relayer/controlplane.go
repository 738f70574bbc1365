package relayer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zapcore"

	apphttp "github.com/omnibridge/bridge-runtime/pkg/app/http"
	"github.com/omnibridge/bridge-runtime/pkg/auth"
	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
	"github.com/omnibridge/bridge-runtime/pkg/ethereum"
)

// Config-table keys owned by the control plane.
const (
	configKeyOwner          = "owner"
	configKeyEvmLink        = "evm_link"
	configKeyBridgeContract = "bft_bridge_contract"
	configKeyWhitelist      = "whitelist"
	configKeyLoggerPerms    = "logger_permissions"
)

// Build metadata, stamped at link time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// controlPlane serves the owner-gated admin API.
type controlPlane struct {
	store     *db.Store
	evm       *ethereum.Client
	cfg       *config.Config
	logRing   *config.LogRing
	validator *auth.JWTValidator
}

func newControlPlane(store *db.Store, evm *ethereum.Client, cfg *config.Config, ring *config.LogRing) *controlPlane {
	var validator *auth.JWTValidator
	if cfg.Bridge.Auth.JWKSURL != "" {
		validator = auth.NewJWTValidator(cfg.Bridge.Auth.JWKSURL, cfg.Bridge.Auth.Issuer)
	}
	return &controlPlane{store: store, evm: evm, cfg: cfg, logRing: ring, validator: validator}
}

// routes mounts the admin surface on r.
func (c *controlPlane) routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(c.ownerOnly)

		r.Post("/admin/owner", apphttp.HandleError(c.setOwner))
		r.Post("/admin/evm-link", apphttp.HandleError(c.setEvmLink))
		r.Post("/admin/bridge-contract", apphttp.HandleError(c.setBridgeContract))

		r.Post("/admin/logger/filter", apphttp.HandleError(c.setLoggerFilter))
		r.Post("/admin/logger/capacity", apphttp.HandleError(c.setLoggerCapacity))
		r.Post("/admin/logger/permissions", apphttp.HandleError(c.addLoggerPermission))
		r.Delete("/admin/logger/permissions", apphttp.HandleError(c.removeLoggerPermission))

		r.Post("/admin/whitelist", apphttp.HandleError(c.addToWhitelist))
		r.Delete("/admin/whitelist", apphttp.HandleError(c.removeFromWhitelist))

		r.Get("/admin/mint-orders", apphttp.HandleError(c.listMintOrders))
		r.Get("/admin/mint-orders/{operationID}", apphttp.HandleError(c.getMintOrder))
	})

	r.Get("/logs", apphttp.HandleError(c.logs))
	r.Get("/buildinfo", apphttp.HandleError(c.buildInfo))
}

// owner returns the current owner address, falling back to the static
// configuration before the first set_owner call.
func (c *controlPlane) owner(ctx context.Context) (string, error) {
	raw, err := c.store.GetConfigValue(ctx, configKeyOwner)
	if err == db.ErrNotFound {
		return c.cfg.Bridge.Owner, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// callerIdentity extracts who is calling: a validated JWT subject, or the
// address recovered from an EIP-191 signature over "METHOD PATH TIMESTAMP".
func (c *controlPlane) callerIdentity(r *http.Request) (string, error) {
	if c.validator != nil {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return "", bridgeerr.AccessDenied("missing bearer token")
		}
		claims, err := c.validator.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return "", bridgeerr.AccessDenied("invalid token")
		}
		sub, _ := claims["sub"].(string)
		return sub, nil
	}

	sig := r.Header.Get("X-Owner-Signature")
	ts := r.Header.Get("X-Owner-Timestamp")
	if sig == "" || ts == "" {
		return "", bridgeerr.AccessDenied("missing owner signature")
	}
	message := fmt.Sprintf("%s %s %s", r.Method, r.URL.Path, ts)
	addr, err := auth.VerifyEIP191Signature(message, sig)
	if err != nil {
		return "", bridgeerr.AccessDenied("invalid owner signature")
	}
	return addr.Hex(), nil
}

// ownerOnly rejects callers whose identity does not match the stored owner.
func (c *controlPlane) ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := c.callerIdentity(r)
		if err != nil {
			apphttp.DefaultErrorHandler(w, err)
			return
		}
		owner, err := c.owner(r.Context())
		if err != nil {
			apphttp.DefaultErrorHandler(w, err)
			return
		}
		if owner == "" || !strings.EqualFold(caller, owner) {
			apphttp.DefaultErrorHandler(w, bridgeerr.AccessDenied("caller is not the bridge owner"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithEVMAddress(r.Context(), caller)))
	})
}

func (c *controlPlane) setOwner(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridgeerr.Serialization(err, "decode set_owner request")
	}
	if !auth.ValidateEVMAddress(req.Owner) {
		return bridgeerr.InvalidRequest("owner is not a valid EVM address")
	}
	if err := c.store.SetConfigValue(r.Context(), configKeyOwner, []byte(auth.NormalizeAddress(req.Owner))); err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]string{"owner": auth.NormalizeAddress(req.Owner)})
}

func (c *controlPlane) setEvmLink(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		LinkKind string   `json:"link_kind"`
		RPCURL   string   `json:"rpc_url"`
		RPCURLs  []string `json:"rpc_urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridgeerr.Serialization(err, "decode set_evm_link request")
	}
	switch config.EvmLinkKind(req.LinkKind) {
	case config.EvmLinkDirect, config.EvmLinkHTTP:
		if req.RPCURL == "" {
			return bridgeerr.InvalidRequest("rpc_url is required for this link kind")
		}
	case config.EvmLinkAggregator:
		if len(req.RPCURLs) == 0 {
			return bridgeerr.InvalidRequest("rpc_urls is required for the aggregator link kind")
		}
	default:
		return bridgeerr.InvalidRequest("unknown evm link kind")
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return bridgeerr.Serialization(err, "encode evm link")
	}
	if err := c.store.SetConfigValue(r.Context(), configKeyEvmLink, encoded); err != nil {
		return err
	}
	// The new link takes effect on the next process start; live re-dialing
	// is not supported.
	return apphttp.RespondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (c *controlPlane) setBridgeContract(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridgeerr.Serialization(err, "decode set_bridge_contract request")
	}
	if !auth.ValidateEVMAddress(req.Address) {
		return bridgeerr.InvalidRequest("bridge contract is not a valid EVM address")
	}

	addr := common.HexToAddress(req.Address)
	code, err := c.evm.CodeAt(r.Context(), addr)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return bridgeerr.InvalidRequest("no contract deployed at the given address")
	}

	if err := c.store.SetConfigValue(r.Context(), configKeyBridgeContract, []byte(addr.Hex())); err != nil {
		return err
	}
	c.evm.SetBridgeContract(addr)
	return apphttp.RespondJSON(w, http.StatusOK, map[string]string{"address": addr.Hex()})
}

func (c *controlPlane) setLoggerFilter(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridgeerr.Serialization(err, "decode logger filter request")
	}
	level, err := zapcore.ParseLevel(req.Level)
	if err != nil {
		return bridgeerr.InvalidRequest("unknown log level")
	}
	c.logRing.SetLevel(level)
	return apphttp.RespondJSON(w, http.StatusOK, map[string]string{"level": level.String()})
}

func (c *controlPlane) setLoggerCapacity(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Capacity int `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridgeerr.Serialization(err, "decode logger capacity request")
	}
	if req.Capacity <= 0 {
		return bridgeerr.InvalidRequest("capacity must be positive")
	}
	c.logRing.SetCapacity(req.Capacity)
	return apphttp.RespondJSON(w, http.StatusOK, map[string]int{"capacity": req.Capacity})
}

// mutateStringList implements the add/remove pattern shared by the whitelist
// and logger-permission endpoints, each backed by a JSON array in the
// config table.
func (c *controlPlane) mutateStringList(ctx context.Context, key, entry string, add bool) ([]string, error) {
	var list []string
	raw, err := c.store.GetConfigValue(ctx, key)
	if err == nil {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, bridgeerr.Serialization(err, "decode stored list")
		}
	} else if err != db.ErrNotFound {
		return nil, err
	}

	out := list[:0]
	found := false
	for _, e := range list {
		if strings.EqualFold(e, entry) {
			found = true
			if !add {
				continue
			}
		}
		out = append(out, e)
	}
	if add && !found {
		out = append(out, entry)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, bridgeerr.Serialization(err, "encode list")
	}
	if err := c.store.SetConfigValue(ctx, key, encoded); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlPlane) listEntryFromBody(r *http.Request, field string) (string, error) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", bridgeerr.Serialization(err, "decode request")
	}
	entry := body[field]
	if entry == "" {
		return "", bridgeerr.InvalidRequest(field + " is required")
	}
	return entry, nil
}

func (c *controlPlane) addToWhitelist(w http.ResponseWriter, r *http.Request) error {
	entry, err := c.listEntryFromBody(r, "address")
	if err != nil {
		return err
	}
	if !auth.ValidateEVMAddress(entry) {
		return bridgeerr.InvalidRequest("address is not a valid EVM address")
	}
	list, err := c.mutateStringList(r.Context(), configKeyWhitelist, auth.NormalizeAddress(entry), true)
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"whitelist": list})
}

func (c *controlPlane) removeFromWhitelist(w http.ResponseWriter, r *http.Request) error {
	entry, err := c.listEntryFromBody(r, "address")
	if err != nil {
		return err
	}
	list, err := c.mutateStringList(r.Context(), configKeyWhitelist, auth.NormalizeAddress(entry), false)
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"whitelist": list})
}

func (c *controlPlane) addLoggerPermission(w http.ResponseWriter, r *http.Request) error {
	entry, err := c.listEntryFromBody(r, "principal")
	if err != nil {
		return err
	}
	list, err := c.mutateStringList(r.Context(), configKeyLoggerPerms, entry, true)
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"principals": list})
}

func (c *controlPlane) removeLoggerPermission(w http.ResponseWriter, r *http.Request) error {
	entry, err := c.listEntryFromBody(r, "principal")
	if err != nil {
		return err
	}
	list, err := c.mutateStringList(r.Context(), configKeyLoggerPerms, entry, false)
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"principals": list})
}

// logs serves the in-memory ring to the owner or any principal granted a
// logger permission.
func (c *controlPlane) logs(w http.ResponseWriter, r *http.Request) error {
	caller, err := c.callerIdentity(r)
	if err != nil {
		return err
	}
	owner, err := c.owner(r.Context())
	if err != nil {
		return err
	}
	if !strings.EqualFold(caller, owner) {
		allowed := false
		raw, err := c.store.GetConfigValue(r.Context(), configKeyLoggerPerms)
		if err == nil {
			var perms []string
			if json.Unmarshal(raw, &perms) == nil {
				for _, p := range perms {
					if strings.EqualFold(p, caller) {
						allowed = true
						break
					}
				}
			}
		}
		if !allowed {
			return bridgeerr.AccessDenied("caller may not read logs")
		}
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"records": c.logRing.Records()})
}

func (c *controlPlane) buildInfo(w http.ResponseWriter, _ *http.Request) error {
	return apphttp.RespondJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
	})
}

func (c *controlPlane) listMintOrders(w http.ResponseWriter, r *http.Request) error {
	sender := r.URL.Query().Get("sender")
	srcToken := r.URL.Query().Get("src_token")
	if sender == "" || srcToken == "" {
		return bridgeerr.InvalidRequest("sender and src_token query parameters are required")
	}
	orders, err := c.store.ListMintOrders(r.Context(), sender, srcToken)
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"orders": renderMintOrders(orders)})
}

func (c *controlPlane) getMintOrder(w http.ResponseWriter, r *http.Request) error {
	sender := r.URL.Query().Get("sender")
	srcToken := r.URL.Query().Get("src_token")
	opID, err := strconv.ParseInt(chi.URLParam(r, "operationID"), 10, 64)
	if err != nil {
		return bridgeerr.InvalidRequest("operationID must be an integer")
	}
	order, err := c.store.GetMintOrder(r.Context(), sender, srcToken, opID)
	if err == db.ErrNotFound {
		return bridgeerr.OperationNotFound("no mint order for the given key")
	}
	if err != nil {
		return err
	}
	return apphttp.RespondJSON(w, http.StatusOK, renderMintOrders([]*db.MintOrderRecord{order})[0])
}

func renderMintOrders(orders []*db.MintOrderRecord) []map[string]any {
	out := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		entry := map[string]any{
			"operation_id": o.OperationID,
			"sender":       o.Sender,
			"src_token":    o.SrcToken,
			"digest":       o.Digest,
			"order":        hex.EncodeToString(o.OrderBytes),
			"signature":    o.SignatureHex,
			"created_at":   o.CreatedAt,
		}
		if o.BatchTxHash != nil {
			entry["batch_tx_hash"] = *o.BatchTxHash
		}
		out = append(out, entry)
	}
	return out
}
