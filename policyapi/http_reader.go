// Reader is a client of the policy http server, used by tests and tools.

package policyapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type HttpReader struct {
	serverIP   string // server ip
	serverPort string // server port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) url(route string) string {
	return "http://" + hr.serverIP + ":" + hr.serverPort + route
}

func (hr *HttpReader) GetHealth() (string, error) {
	resp, err := http.Get(hr.url(ROUTE_HEALTH))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (hr *HttpReader) Compile(req *CompileRequest) (*CompileResponse, error) {
	var resp CompileResponse
	if err := hr.post(ROUTE_COMPILE, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (hr *HttpReader) Plan(req *PlanRequest) (*PlanResponse, error) {
	var resp PlanResponse
	if err := hr.post(ROUTE_PLAN, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends req as JSON and decodes the "data" field of a 200 answer.
// Any other status is returned as an error carrying the server's message.
func (hr *HttpReader) post(route string, req interface{}, out interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := http.Post(hr.url(route), "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &failure)
		return fmt.Errorf("%s: status %d: %s", route, resp.StatusCode, failure.Error)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, out)
}
