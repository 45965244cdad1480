package agent

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/total-audio/autopilot/internal/confidence"
)

// ParseRawResult decodes a wire-format result payload from an out-of-process
// executor. Executors that speak JSON over a pipe or HTTP report a document
// shaped like:
//
//	{
//	  "success": true,
//	  "output": {...},
//	  "confidence": {
//	    "data_completeness": 0.9,
//	    "risk_assessment": 0.8,
//	    "policy_compliance": 1.0,
//	    "capability_match": 0.7,
//	    "context_quality": 0.6
//	  },
//	  "error": ""
//	}
//
// All five confidence dimensions must be present; a missing dimension is a
// malformed result, not an implicit zero, so that executors cannot smuggle
// in placeholder confidence.
func ParseRawResult(raw []byte) (*Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: result payload is not valid JSON", confidence.ErrInvalidInput)
	}

	doc := gjson.ParseBytes(raw)

	dims := map[string]*float64{}
	var b confidence.Breakdown
	dims["data_completeness"] = &b.DataCompleteness
	dims["risk_assessment"] = &b.RiskAssessment
	dims["policy_compliance"] = &b.PolicyCompliance
	dims["capability_match"] = &b.CapabilityMatch
	dims["context_quality"] = &b.ContextQuality

	for name, dst := range dims {
		v := doc.Get("confidence." + name)
		if !v.Exists() {
			return nil, fmt.Errorf("%w: missing confidence dimension %q", confidence.ErrInvalidInput, name)
		}
		*dst = v.Float()
	}

	res := &Result{
		Success:   doc.Get("success").Bool(),
		Breakdown: b,
		Error:     doc.Get("error").String(),
	}
	if out := doc.Get("output"); out.Exists() {
		res.Output = json.RawMessage(out.Raw)
	}
	return res, nil
}
