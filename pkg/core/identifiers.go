package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Identifiers are URNs of the form urn:trail:<class>:<...>.
const urnPrefix = "urn:trail"

// DataObjectURN identifies a data object by type and content hash.
func DataObjectURN(typeName, hash string) string {
	return fmt.Sprintf("%s:object:go:%s:%s", urnPrefix, typeName, hash)
}

// FileURN identifies a file by hash type, hash and location. Files with the
// same content at different paths are distinct entities sharing a hash.
func FileURN(hashType, hash, path string) string {
	loc := sha256.Sum256([]byte(filepath.Clean(path)))
	return fmt.Sprintf("%s:file:%s:%s:%s", urnPrefix, hashType, hash, hex.EncodeToString(loc[:8]))
}

// FunctionURN identifies a callable by qualified name.
func FunctionURN(qualifiedName string) string {
	return fmt.Sprintf("%s:function:go:%s", urnPrefix, qualifiedName)
}

// ScriptURN identifies one run of a script.
func ScriptURN(scriptPath, scriptHash, sessionID string) string {
	return fmt.Sprintf("%s:script:go:%s:%s#%s", urnPrefix, filepath.Base(scriptPath), scriptHash, sessionID)
}

// ExecutionURN identifies one function execution within a session.
func ExecutionURN(sessionID string, order int) string {
	return fmt.Sprintf("%s:function_execution:go:%s#%d", urnPrefix, sessionID, order)
}
