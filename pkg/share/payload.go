package share

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/verichat/pkg/receipt"
)

// FormatVersion is written into every new bundle.
const FormatVersion = "1.0.0"

// supportedVersions is the range of bundle versions Open accepts.
const supportedVersions = "^1.0.0"

const schemaURL = "https://verichat.schemas.local/share/bundle.schema.json"

//go:embed bundle.schema.json
var bundleSchema string

var (
	compiledSchema = mustCompileSchema()
	versionRange   = mustConstraint(supportedVersions)
)

// Message is one plaintext conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatData is the shared conversation together with the wire evidence its
// receipt was computed over.
type ChatData struct {
	RequestBody     []byte    `json:"request_body,omitempty"`
	ResponseBody    []byte    `json:"response_body,omitempty"`
	ExchangeID      string    `json:"exchange_id,omitempty"`
	ClientPublicKey string    `json:"client_public_key,omitempty"`
	ModelPublicKey  string    `json:"model_public_key,omitempty"`
	SigningAlgo     string    `json:"signing_algo,omitempty"`
	Messages        []Message `json:"messages"`
}

// Payload is the plaintext content of a share bundle.
type Payload struct {
	Version   string           `json:"version"`
	ChatData  *ChatData        `json:"chat_data"`
	Receipt   *receipt.Receipt `json:"receipt"`
	Timestamp int64            `json:"timestamp"`
}

// decodePayload validates data against the bundle schema and version range.
func decodePayload(data []byte) (*Payload, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidBundle, p.Version, err)
	}
	if !versionRange.Check(v) {
		return nil, fmt.Errorf("%w: version %s is outside %s", ErrInvalidBundle, p.Version, supportedVersions)
	}
	return &p, nil
}

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader([]byte(bundleSchema))); err != nil {
		panic(fmt.Sprintf("share: bundle schema load failed: %v", err))
	}
	return c.MustCompile(schemaURL)
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}
