package policyapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-policy/compiler"
)

const vaultPolicy = "or(pk(emergency),and(pk(unvault),after(1311208)))"

func testPubKey(i int) *btcec.PublicKey {
	var seed [32]byte
	seed[0] = 0x17
	seed[31] = byte(i + 1)
	_, pub := btcec.PrivKeyFromBytes(seed[:])
	return pub
}

func newTestServer() *HttpServer {
	gin.SetMode(gin.TestMode)
	keys := map[string]*btcec.PublicKey{
		"emergency": testPubKey(0),
		"unvault":   testPubKey(1),
	}
	return NewHttpServer("127.0.0.1", "0", &chaincfg.RegressionNetParams, keys, compiler.DefaultLimits())
}

func doPost(t *testing.T, router http.Handler, route string, body interface{}) (int, map[string]interface{}) {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, route, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestHealth(t *testing.T) {
	router := newTestServer().SetupRouter()

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, ROUTE_HEALTH, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCompileAndDecompile(t *testing.T) {
	router := newTestServer().SetupRouter()

	code, out := doPost(t, router, ROUTE_COMPILE, CompileRequest{Policy: vaultPolicy})
	require.Equal(t, http.StatusOK, code, out)
	data := out["data"].(map[string]interface{})

	want, err := compiler.Compile(vaultPolicy, compiler.WithKeys(map[string]*btcec.PublicKey{
		"emergency": testPubKey(0),
		"unvault":   testPubKey(1),
	}))
	require.NoError(t, err)
	addr, err := want.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)

	assert.Equal(t, want.Policy, data["policy"])
	assert.Equal(t, hex.EncodeToString(want.WitnessScript), data["witness_script"])
	assert.Equal(t, addr.EncodeAddress(), data["address"])
	assert.True(t, strings.HasPrefix(data["address"].(string), "bcrt1q"))
	assert.Len(t, data["leaves"], 3)
	assert.Equal(t, "thresh", data["tree"].(map[string]interface{})["type"])

	code, out = doPost(t, router, ROUTE_DECOMPILE, DecompileRequest{WitnessScript: data["witness_script"].(string)})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, want.Policy, out["data"].(map[string]interface{})["policy"])
}

func TestCompileWithRequestKeys(t *testing.T) {
	router := newTestServer().SetupRouter()

	other := hex.EncodeToString(testPubKey(5).SerializeCompressed())
	code, out := doPost(t, router, ROUTE_COMPILE, CompileRequest{
		Policy: "or(pk(emergency),pk(backup))",
		Keys:   map[string]string{"backup": other},
	})
	require.Equal(t, http.StatusOK, code, out)
	assert.Contains(t, out["data"].(map[string]interface{})["policy"], other)
}

func TestCompileErrors(t *testing.T) {
	router := newTestServer().SetupRouter()

	code, out := doPost(t, router, ROUTE_COMPILE, CompileRequest{Policy: "and(pk(emergency),pk(unvault)"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out, "position")

	code, out = doPost(t, router, ROUTE_COMPILE, CompileRequest{Policy: "and(pk(emergency),pk(emergency))"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, string(compiler.ConstraintDuplicateKey), out["constraint"])

	code, _ = doPost(t, router, ROUTE_COMPILE, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doPost(t, router, ROUTE_DECOMPILE, DecompileRequest{WitnessScript: "zz"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doPost(t, router, ROUTE_DECOMPILE, DecompileRequest{WitnessScript: "61"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlan(t *testing.T) {
	router := newTestServer().SetupRouter()

	code, out := doPost(t, router, ROUTE_PLAN, PlanRequest{
		Policy:   vaultPolicy,
		HeldKeys: []string{"unvault"},
		After:    []uint32{1311208},
	})
	require.Equal(t, http.StatusOK, code, out)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{1.0, 2.0}, data["leaves"])
	assert.EqualValues(t, 1311208, data["required_locktime"])
	steps := data["steps"].([]interface{})
	require.Len(t, steps, 1)
	step := steps[0].(map[string]interface{})
	assert.Equal(t, "sign", step["action"])
	assert.Equal(t, hex.EncodeToString(testPubKey(1).SerializeCompressed()), step["pubkey"])

	code, _ = doPost(t, router, ROUTE_PLAN, PlanRequest{Policy: vaultPolicy, HeldKeys: []string{"unvault"}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, out = doPost(t, router, ROUTE_PLAN, PlanRequest{
		Policy:   "and(pk(emergency),after(100),after(200))",
		HeldKeys: []string{hex.EncodeToString(testPubKey(0).SerializeCompressed())},
		After:    []uint32{200},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, []interface{}{100.0, 200.0}, out["locktimes"])

	code, _ = doPost(t, router, ROUTE_PLAN, PlanRequest{Policy: vaultPolicy, Preimages: []string{"abcd"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doPost(t, router, ROUTE_PLAN, PlanRequest{Policy: vaultPolicy, HeldKeys: []string{"nobody"}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHttpReader(t *testing.T) {
	ts := httptest.NewServer(newTestServer().SetupRouter())
	defer ts.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	reader := NewHttpReader(host, port)

	body, err := reader.GetHealth()
	require.NoError(t, err)
	assert.Contains(t, body, "ok")

	compiled, err := reader.Compile(&CompileRequest{Policy: vaultPolicy})
	require.NoError(t, err)
	assert.Len(t, compiled.Leaves, 3)
	assert.Equal(t, 2, compiled.Leaves[2].LeafID)
	assert.Equal(t, "after(1311208)", compiled.Leaves[2].Policy)

	plan, err := reader.Plan(&PlanRequest{Policy: vaultPolicy, HeldKeys: []string{"emergency"}})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.Leaves)
	assert.Zero(t, plan.RequiredLockTime)

	_, err = reader.Plan(&PlanRequest{Policy: vaultPolicy})
	assert.Error(t, err)
}
