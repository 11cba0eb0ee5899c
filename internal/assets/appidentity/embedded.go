package appidentityassets

import _ "embed"

// YAML is the compiled-in application identity. It is registered with
// gofulmen/appidentity so installed binaries resolve identity without a
// .fulmen/app.yaml on disk.
//
//go:embed app.yaml
var YAML []byte
