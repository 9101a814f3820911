package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly, multi-line error message.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*StoreError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(se.Message)
	sb.WriteString("\n")

	if se.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(se.Suggestion)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", se.Kind))
	return sb.String()
}

// jsonError is the JSON representation of a StoreError.
type jsonError struct {
	Kind       string            `json:"kind"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
}

// FormatJSON returns a JSON representation of the error, for structured logging
// sinks that prefer a marshaled blob over individual slog attributes.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	se, ok := err.(*StoreError)
	if !ok {
		se = Wrap(KindValidation, "wrapped", err)
	}

	je := jsonError{
		Kind:       string(se.Kind),
		Code:       se.Code,
		Message:    se.Message,
		Details:    se.Details,
		Suggestion: se.Suggestion,
	}
	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs formats an error into key-value pairs suitable for slog attributes.
func LogAttrs(err error) map[string]any {
	if err == nil {
		return nil
	}

	se, ok := err.(*StoreError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_kind": string(se.Kind),
		"message":    se.Message,
	}
	if se.Code != "" {
		result["error_code"] = se.Code
	}
	if se.Cause != nil {
		result["cause"] = se.Cause.Error()
	}
	if se.Suggestion != "" {
		result["suggestion"] = se.Suggestion
	}
	for k, v := range se.Details {
		result["detail_"+k] = v
	}

	return result
}
