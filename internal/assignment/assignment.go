// Package assignment maps fields to signers and computes completion.
package assignment

import (
	"math"
	"sort"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// SignerProgress is the completion of one signer's required fields.
type SignerProgress struct {
	SignerID          uint64 `json:"signer_id"`
	TotalRequired     int    `json:"total_required"`
	CompletedRequired int    `json:"completed_required"`
	Percent           int    `json:"percent"`
}

// Progress aggregates completion across all signers of a document.
type Progress struct {
	TotalRequired     int              `json:"total_required"`
	CompletedRequired int              `json:"completed_required"`
	Percent           int              `json:"percent"`
	Signers           []SignerProgress `json:"signers"`
}

// FieldsFor returns the fields assigned to signerID, in input order.
func FieldsFor(fields []model.Field, signerID uint64) []model.Field {
	out := []model.Field{}
	for _, f := range fields {
		if f.AssignedToSigner(signerID) {
			out = append(out, f)
		}
	}
	return out
}

// Assigned returns the fields that have any signer.  Unassigned fields
// block no one.
func Assigned(fields []model.Field) []model.Field {
	out := []model.Field{}
	for _, f := range fields {
		if f.AssignedTo != nil {
			out = append(out, f)
		}
	}
	return out
}

// Values returns the current stored value of every field.
func Values(fields []model.Field) map[uint64]string {
	out := make(map[uint64]string, len(fields))
	for _, f := range fields {
		out[f.ID] = f.Value
	}
	return out
}

// Merge overlays updates on base without modifying either.
func Merge(base, updates map[uint64]string) map[uint64]string {
	out := make(map[uint64]string, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// Completion is completedRequired / totalRequired * 100, rounded.  It is
// 100 when there are no required fields.
func Completion(fields []model.Field, values map[uint64]string) int {
	total, done := count(fields, values)
	return percent(total, done)
}

// SignerCompletion computes Completion over the signer's fields.
func SignerCompletion(fields []model.Field, signerID uint64, values map[uint64]string) SignerProgress {
	total, done := count(FieldsFor(fields, signerID), values)
	return SignerProgress{SignerID: signerID, TotalRequired: total, CompletedRequired: done, Percent: percent(total, done)}
}

// DocumentCompletion aggregates completion over every signer.
func DocumentCompletion(fields []model.Field, signers []model.Signer, values map[uint64]string) Progress {
	p := Progress{Signers: make([]SignerProgress, 0, len(signers))}
	for _, s := range Ordered(signers) {
		sp := SignerCompletion(fields, s.ID, values)
		p.TotalRequired += sp.TotalRequired
		p.CompletedRequired += sp.CompletedRequired
		p.Signers = append(p.Signers, sp)
	}
	p.Percent = percent(p.TotalRequired, p.CompletedRequired)
	return p
}

// IsLastSigner reports whether every signer other than completingID has
// already completed.
func IsLastSigner(signers []model.Signer, completingID uint64) bool {
	for _, s := range signers {
		if s.ID == completingID {
			continue
		}
		if s.Status != model.SignerCompleted {
			return false
		}
	}
	return true
}

// Ordered returns signers sorted by Order, then ID.
func Ordered(signers []model.Signer) []model.Signer {
	out := make([]model.Signer, len(signers))
	copy(out, signers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NextSigner returns the first pending signer in signing order, or nil.
func NextSigner(signers []model.Signer) *model.Signer {
	for _, s := range Ordered(signers) {
		if s.Status == model.SignerPending {
			s := s
			return &s
		}
	}
	return nil
}

// InTurn reports whether signerID may complete now.  Parallel documents
// are always in turn; sequential documents require everyone with a lower
// order to have completed.
func InTurn(doc model.Document, signers []model.Signer, signerID uint64) bool {
	if !doc.Sequential {
		return true
	}
	var me *model.Signer
	for i := range signers {
		if signers[i].ID == signerID {
			me = &signers[i]
		}
	}
	if me == nil {
		return false
	}
	for _, s := range signers {
		if s.ID != signerID && s.Order < me.Order && s.Status != model.SignerCompleted {
			return false
		}
	}
	return true
}

func count(fields []model.Field, values map[uint64]string) (total, done int) {
	for _, f := range fields {
		if !f.Required {
			continue
		}
		total++
		if f.Filled(values[f.ID]) {
			done++
		}
	}
	return total, done
}

func percent(total, done int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
