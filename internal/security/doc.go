// Package security provides input validation for user-supplied content.
//
// # Overview
//
// Questions arrive from untrusted clients and flow into prompts and, via
// answers, into web frontends. The QuestionValidator rejects empty,
// oversized, and suspicious questions before any retrieval or generation
// work is spent on them:
//
//	validator := security.NewQuestionValidator(2000)
//	result := validator.Validate(question)
//	if !result.Valid {
//	    return fmt.Errorf("rejected: %s", result.Reason)
//	}
//
// The denylist targets markup and script injection patterns (script tags,
// event handlers, javascript: URLs). Matching is done on a normalized copy
// of the input so case tricks and zero-width characters do not slip
// through. See QuestionValidator for known limitations.
package security
