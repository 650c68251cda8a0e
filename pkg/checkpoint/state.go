// Package checkpoint persists streaming decoder state so that a long decode
// can resume after a restart.
package checkpoint

// Progress tracks how far the observation stream has been consumed.
type Progress struct {
	Observations int `json:"observations"`
	Emitted      int `json:"emitted"`
	Decoded      int `json:"decoded"`
	Convergences int `json:"convergences"`
}

// Metadata describes a saved checkpoint.
type Metadata struct {
	Version   int               `json:"version"`
	Input     string            `json:"input"`
	InputHash string            `json:"input_hash"`
	Decoder   string            `json:"decoder"`
	CreatedAt string            `json:"created_at"`
	States    int               `json:"states"`
	Symbols   int               `json:"symbols"`
	Progress  Progress          `json:"progress"`
	Checksums map[string]string `json:"checksums"`
}
