package deployertest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Bidon15/nitro-migrate/internal/artifacts"
)

// CollectionABI mirrors the NitroCollection constructor.
const CollectionABI = `[{"inputs":[
	{"name":"payee","type":"address"},
	{"name":"splitter","type":"address"},
	{"name":"admin","type":"address"},
	{"name":"tier","type":"uint256"},
	{"name":"royaltyBps","type":"uint256"},
	{"name":"baseURI","type":"string"},
	{"name":"owner","type":"address"}
],"stateMutability":"nonpayable","type":"constructor"}]`

// Bytecode is placeholder creation code for fake artifacts.
const Bytecode = "0x6080604052348015600f57600080fd5b50"

// Artifact builds a parsed artifact from an ABI.
func Artifact(t testing.TB, name, abiJSON string) *artifacts.ContractArtifact {
	t.Helper()
	a := &artifacts.ContractArtifact{
		ContractName: name,
		ABI:          json.RawMessage(abiJSON),
		Bytecode:     artifacts.Bytecode{Object: Bytecode},
	}
	if err := a.Parse(); err != nil {
		t.Fatalf("parse %s artifact: %v", name, err)
	}
	return a
}

// WriteBuildDir writes Migrations and NitroCollection artifacts into a fresh
// temp dir and returns it.
func WriteBuildDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for name, abiJSON := range map[string]string{
		artifacts.MigrationsContract: artifacts.MigrationsABI,
		"NitroCollection":            CollectionABI,
	} {
		doc := map[string]any{
			"contractName": name,
			"abi":          json.RawMessage(abiJSON),
			"bytecode":     Bytecode,
		}
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}
