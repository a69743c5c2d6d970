package php

import (
	_ "embed"
)

// BuiltinsPath is the path under which the builtin declarations are
// scanned. It never names a real file.
const BuiltinsPath = "<builtin>"

//go:embed builtins.php
var builtins []byte

// Builtins returns the stub source declaring the runtime's functions,
// constants and classes.
func Builtins() []byte {
	return builtins
}
