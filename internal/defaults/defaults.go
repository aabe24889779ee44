// Package defaults provides embedded copies of the example config and
// prompts files for the parley init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/parley.example.yaml . && cp ../../examples/prompts.example.yaml ."

//go:embed parley.example.yaml
var ConfigYAML []byte

//go:embed prompts.example.yaml
var PromptsYAML []byte
