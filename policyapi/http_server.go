// This is the http surface of the policy engine.
// It compiles, decompiles and plans policies on request
// and answers with JSON.

package policyapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/assets"
	"github.com/TEENet-io/vault-policy/compiler"
	"github.com/TEENet-io/vault-policy/condition"
	"github.com/TEENet-io/vault-policy/planner"
)

const (
	ROUTE_HEALTH    = "/health"
	ROUTE_COMPILE   = "/compile"
	ROUTE_DECOMPILE = "/decompile"
	ROUTE_PLAN      = "/plan"
)

type HttpServer struct {
	serverIP   string // listen ip
	serverPort string // listen port

	chainConfig *chaincfg.Params            // addresses are derived for this chain
	keys        map[string]*btcec.PublicKey // names usable in pk() on every request
	limits      compiler.Limits
}

func NewHttpServer(serverIP string, serverPort string, chainConfig *chaincfg.Params, keys map[string]*btcec.PublicKey, limits compiler.Limits) *HttpServer {
	return &HttpServer{
		serverIP:    serverIP,
		serverPort:  serverPort,
		chainConfig: chainConfig,
		keys:        keys,
		limits:      limits,
	}
}

// Hook up routes & handlers
func (h *HttpServer) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HEALTH, Health)
	router.POST(ROUTE_COMPILE, h.Compile)
	router.POST(ROUTE_DECOMPILE, h.Decompile)
	router.POST(ROUTE_PLAN, h.Plan)

	return router
}

// Hook up router & ip:port, blocks until the listener fails.
func (h *HttpServer) Run() error {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	logger.WithField("address", address).Info("policy server listening")
	return router.Run(address)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (h *HttpServer) Compile(c *gin.Context) {
	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := h.options(req.Keys)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	compiled, err := compiler.Compile(req.Policy, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondCompiled(c, compiled)
}

func (h *HttpServer) Decompile(c *gin.Context) {
	var req DecompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	script, err := hex.DecodeString(req.WitnessScript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "witness_script is not hex"})
		return
	}
	compiled, err := compiler.Decompile(script, compiler.WithLimits(h.limits))
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondCompiled(c, compiled)
}

func (h *HttpServer) Plan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := h.options(req.Keys)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	compiled, err := compiler.Compile(req.Policy, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	set, err := h.assetSet(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := planner.New(compiled.Tree).Plan(set)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newPlanResponse(plan)})
}

func (h *HttpServer) respondCompiled(c *gin.Context, compiled *compiler.Compiled) {
	addr, err := compiled.Address(h.chainConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp, err := newCompileResponse(compiled, addr.EncodeAddress())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// options merges per request key names over the server's.
func (h *HttpServer) options(extra map[string]string) ([]compiler.Option, error) {
	keys := make(map[string]*btcec.PublicKey, len(h.keys)+len(extra))
	for name, pub := range h.keys {
		keys[name] = pub
	}
	for name, keyHex := range extra {
		pub, err := parsePubKey(keyHex)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		keys[name] = pub
	}
	return []compiler.Option{compiler.WithKeys(keys), compiler.WithLimits(h.limits)}, nil
}

func (h *HttpServer) assetSet(req *PlanRequest) (*assets.Set, error) {
	set, err := assets.NewSet()
	if err != nil {
		return nil, err
	}
	for _, held := range req.HeldKeys {
		pub, err := h.resolveKey(held, req.Keys)
		if err != nil {
			return nil, fmt.Errorf("held key %q: %w", held, err)
		}
		if err := set.Add(assets.Key(pub)); err != nil {
			return nil, err
		}
	}
	for _, n := range req.After {
		if err := set.Add(assets.After(n)); err != nil {
			return nil, err
		}
	}
	for _, n := range req.Older {
		if err := set.Add(assets.Older(n)); err != nil {
			return nil, err
		}
	}
	for _, p := range req.Preimages {
		preimage, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("preimage is not hex: %w", err)
		}
		if err := set.Add(assets.Preimage(preimage)); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// resolveKey looks a name up in the request, then the server, and falls
// back to reading it as hex.
func (h *HttpServer) resolveKey(name string, extra map[string]string) (*btcec.PublicKey, error) {
	if keyHex, ok := extra[name]; ok {
		return parsePubKey(keyHex)
	}
	if pub, ok := h.keys[name]; ok {
		return pub, nil
	}
	return parsePubKey(name)
}

func parsePubKey(keyHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

// writeError maps engine errors to status codes. The body always carries
// "error", plus the fields a client needs to point at the problem.
func writeError(c *gin.Context, err error) {
	var parseErr *compiler.ParseError
	var compileErr *compiler.CompileError
	var conflict *planner.ConflictingTimelockError

	switch {
	case errors.As(err, &parseErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    err.Error(),
			"position": parseErr.Pos,
			"token":    parseErr.Token,
		})
	case errors.As(err, &compileErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      err.Error(),
			"constraint": compileErr.Constraint,
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"locktimes": conflict.LockTimes,
			"sequences": conflict.Sequences,
		})
	case errors.Is(err, planner.ErrUnsatisfiable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, condition.ErrNonCanonicalScript), errors.Is(err, condition.ErrMalformedCondition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.WithError(err).Error("policy request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
