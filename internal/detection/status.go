package detection

import (
	"strings"
	"time"
)

// Part identifies a piece of equipment (or the wearer) tracked in a status snapshot.
type Part string

const (
	PartHardhat    Part = "hardhat"
	PartHelmet     Part = "helmet"
	PartHead       Part = "head"
	PartGloves     Part = "gloves"
	PartHand       Part = "hand"
	PartVest       Part = "vest"
	PartSafetyVest Part = "safety_vest"
	PartPerson     Part = "person"
)

// Parts lists every tracked part in display order.
var Parts = []Part{
	PartHardhat, PartHelmet, PartHead, PartGloves,
	PartHand, PartVest, PartSafetyVest, PartPerson,
}

// PartStatus is the presence of one part in the latest batch.
type PartStatus struct {
	Present    bool       `json:"present"`
	Confidence float64    `json:"confidence"`
	LastSeen   *time.Time `json:"lastSeen"`
}

// StatusSnapshot maps every tracked part to its status. It is rebuilt per batch.
type StatusSnapshot map[Part]PartStatus

// ExtractStatus builds a snapshot from an unfiltered batch. Non-person parts are
// marked present only by predictions at or above the minimum confidence; person
// detections count regardless. Violation types ("no_hardhat") never mark presence.
func (p *Processor) ExtractStatus(preds []Prediction, seenAt time.Time) StatusSnapshot {
	snapshot := make(StatusSnapshot, len(Parts))
	for _, part := range Parts {
		snapshot[part] = PartStatus{}
	}

	for _, pred := range preds {
		if IsViolation(pred.Type) {
			continue
		}
		norm := NormalizeType(pred.Type)
		for _, part := range Parts {
			if !strings.Contains(norm, NormalizeType(string(part))) {
				continue
			}
			if part != PartPerson && pred.Confidence < p.minConfidence {
				continue
			}
			status := snapshot[part]
			ts := seenAt
			status.Present = true
			status.LastSeen = &ts
			if pred.Confidence > status.Confidence {
				status.Confidence = pred.Confidence
			}
			snapshot[part] = status
		}
	}
	return snapshot
}

// Missing returns the parts not present, excluding the person entry, in display order.
func (s StatusSnapshot) Missing() []Part {
	var out []Part
	for _, part := range Parts {
		if part == PartPerson {
			continue
		}
		if !s[part].Present {
			out = append(out, part)
		}
	}
	return out
}
