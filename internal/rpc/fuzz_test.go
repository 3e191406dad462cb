package rpc

import (
	"encoding/json"
	"testing"
)

// FuzzRPCRequestUnmarshal tests that arbitrary JSON does not panic when
// parsed as a JSON-RPC 2.0 request and its params decoded.
func FuzzRPCRequestUnmarshal(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","method":"chain_getInfo","params":null,"id":1}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"chain_getBlock","params":{"hash":"abc"},"id":"test"}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"chain_validate","params":{"block":{"transaction":"zz"}},"id":2}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"method":"","params":[]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		var bp BlockParam
		_ = parseParams(&req, &bp)
		var vp ValidateParam
		_ = parseParams(&req, &vp)
	})
}
