package filestore

import (
	"encoding/json"
	"fmt"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/resource"
)

// sidecarJSON is the wire schema from spec.md §3/§6: {m,t,l,p,h}.
type sidecarJSON struct {
	M string            `json:"m"`
	T string            `json:"t,omitempty"`
	L *int64            `json:"l,omitempty"`
	P string            `json:"p"`
	H map[string]string `json:"h,omitempty"`
}

func encodeSidecar(info resource.StorageInfo) ([]byte, error) {
	doc := sidecarJSON{
		M: info.MIMEType,
		P: info.Policy.String(),
		H: info.Headers,
	}
	if info.HasEncoding {
		doc.T = info.TextEncoding
	}
	if info.HasLength {
		l := info.TotalLength
		doc.L = &l
	}
	return json.Marshal(doc)
}

func decodeSidecar(raw []byte) (resource.StorageInfo, error) {
	var doc sidecarJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return resource.StorageInfo{}, fmt.Errorf("decode sidecar: %w", err)
	}

	info := resource.Info{MIMEType: doc.M, Headers: doc.H}
	if doc.M == "" {
		info.MIMEType = resource.DefaultMIMEType
	}
	if doc.T != "" {
		info.HasEncoding = true
		info.TextEncoding = doc.T
	}
	if doc.L != nil {
		info.HasLength = true
		info.TotalLength = *doc.L
	}

	return resource.StorageInfo{Info: info, Policy: policy.Parse(doc.P)}, nil
}

// sidecarStore abstracts where the per-entry metadata record lives,
// per spec.md §9's design note: platform xattr where available, a sibling
// file otherwise. Both implementations speak the same JSON schema.
type sidecarStore interface {
	Load(payloadPath string) (resource.StorageInfo, bool, error)
	Save(payloadPath string, info resource.StorageInfo) error
	Remove(payloadPath string) error
}
