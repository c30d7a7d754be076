package envelope

import (
	"fmt"
	"strings"
)

// Code identifies the verdict of a stage run. The set is closed: stages
// pick from the constants below and wire input is checked with ParseCode.
type Code string

// Family groups codes by how callers should react to them.
type Family int

const (
	// FamilySuccess covers OK_* codes; the stage approved its input.
	FamilySuccess Family = iota
	// FamilyClarification covers NEED_* and E_NEEDS_* codes; the stage
	// is blocked on more input from the caller, not on a defect.
	FamilyClarification
	// FamilyError covers the remaining E_* codes; the stage rejected
	// its input with actionable feedback.
	FamilyError
)

const (
	// Clarify
	CodeOKClear           Code = "OK_CLEAR"
	CodeNeedClarification Code = "NEED_CLARIFICATION"

	// Requirements
	CodeOKRequirementsReady Code = "OK_REQUIREMENTS_READY"
	CodeNeedAnswers         Code = "NEED_ANSWERS"

	// Plan review
	CodeOKPlanApproved    Code = "OK_PLAN_APPROVED"
	CodeErrPlanIncomplete Code = "E_PLAN_INCOMPLETE"

	// Phase gates
	CodeOKScaffoldApproved Code = "OK_SCAFFOLD_APPROVED"
	CodeErrScaffoldInvalid Code = "E_SCAFFOLD_INVALID"
	CodeOKImplApproved     Code = "OK_IMPL_APPROVED"
	CodeErrImplUnjustified Code = "E_IMPL_UNJUSTIFIED"
	CodeOKTestsApproved    Code = "OK_TESTS_APPROVED"
	CodeErrCoverageLow     Code = "E_COVERAGE_LOW"
	CodeOKDocsApproved     Code = "OK_DOCS_APPROVED"
	CodeErrDocsMissing     Code = "E_DOCS_MISSING"

	// Consistency
	CodeOKConsistent     Code = "OK_CONSISTENT"
	CodeErrContradiction Code = "E_CONTRADICTION"

	// Evidence
	CodeOKEvidenceValid  Code = "OK_EVIDENCE_VALID"
	CodeErrNeedsEvidence Code = "E_NEEDS_EVIDENCE"

	// Final review and approval
	CodeOKFinalApproved  Code = "OK_FINAL_APPROVED"
	CodeErrFinalRejected Code = "E_FINAL_REJECTED"
	CodeOKApproved       Code = "OK_APPROVED"
	CodeErrRejected      Code = "E_REJECTED"

	// Memory and routing
	CodeOKMemoryStored Code = "OK_MEMORY_STORED"
	CodeOKRouted       Code = "OK_ROUTED"

	// Universal codes, valid for every stage
	CodeErrReasoningMissing Code = "E_REASONING_MISSING"
	CodeErrPayloadInvalid   Code = "E_PAYLOAD_INVALID"
)

// NextAction tokens advertise what the caller should do after a verdict.
const (
	ActionAnswerQuestions       = "ANSWER_CLARIFYING_QUESTIONS"
	ActionProceedToRequirements = "PROCEED_TO_REQUIREMENTS"
	ActionProceedToPlan         = "PROCEED_TO_PLAN"
	ActionRevisePlan            = "REVISE_PLAN"
	ActionProceedToScaffold     = "PROCEED_TO_SCAFFOLD"
	ActionResubmitScaffold      = "RESUBMIT_SCAFFOLD"
	ActionProceedToImpl         = "PROCEED_TO_IMPLEMENTATION"
	ActionResubmitImpl          = "RESUBMIT_IMPLEMENTATION"
	ActionProceedToTests        = "PROCEED_TO_TESTS"
	ActionResubmitTests         = "RESUBMIT_TESTS"
	ActionProceedToDocs         = "PROCEED_TO_DOCS"
	ActionResubmitDocs          = "RESUBMIT_DOCS"
	ActionFixContradictions     = "FIX_CONTRADICTIONS"
	ActionAddCitations          = "ADD_CITATIONS"
	ActionAddressFindings       = "ADDRESS_REVIEW_FINDINGS"
	ActionProceedToApproval     = "PROCEED_TO_APPROVAL"
	ActionProvideReasoning      = "PROVIDE_REASONING"
	ActionResubmitPayload       = "RESUBMIT_PAYLOAD"
	ActionComplete              = "COMPLETE"
	ActionContinue              = "CONTINUE"
)

// defaultNextAction is the canonical follow-up for each code. A stage can
// override it through WithNextAction when context warrants.
var defaultNextAction = map[Code]string{
	CodeOKClear:             ActionProceedToRequirements,
	CodeNeedClarification:   ActionAnswerQuestions,
	CodeOKRequirementsReady: ActionProceedToPlan,
	CodeNeedAnswers:         ActionAnswerQuestions,
	CodeOKPlanApproved:      ActionProceedToScaffold,
	CodeErrPlanIncomplete:   ActionRevisePlan,
	CodeOKScaffoldApproved:  ActionProceedToImpl,
	CodeErrScaffoldInvalid:  ActionResubmitScaffold,
	CodeOKImplApproved:      ActionProceedToTests,
	CodeErrImplUnjustified:  ActionResubmitImpl,
	CodeOKTestsApproved:     ActionProceedToDocs,
	CodeErrCoverageLow:      ActionResubmitTests,
	CodeOKDocsApproved:      ActionProceedToApproval,
	CodeErrDocsMissing:      ActionResubmitDocs,
	CodeOKConsistent:        ActionContinue,
	CodeErrContradiction:    ActionFixContradictions,
	CodeOKEvidenceValid:     ActionContinue,
	CodeErrNeedsEvidence:    ActionAddCitations,
	CodeOKFinalApproved:     ActionProceedToApproval,
	CodeErrFinalRejected:    ActionAddressFindings,
	CodeOKApproved:          ActionComplete,
	CodeErrRejected:         ActionAddressFindings,
	CodeOKMemoryStored:      ActionContinue,
	CodeOKRouted:            ActionContinue,
	CodeErrReasoningMissing: ActionProvideReasoning,
	CodeErrPayloadInvalid:   ActionResubmitPayload,
}

// Family classifies a code by prefix. Order matters: E_NEEDS_ is a
// clarification request even though it starts with E_.
func (c Code) Family() Family {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "OK_"):
		return FamilySuccess
	case strings.HasPrefix(s, "NEED_"), strings.HasPrefix(s, "E_NEEDS_"):
		return FamilyClarification
	default:
		return FamilyError
	}
}

// IsSuccess reports whether the code approves the stage input.
func (c Code) IsSuccess() bool { return c.Family() == FamilySuccess }

// IsClarification reports whether the code asks the caller for more input.
func (c Code) IsClarification() bool { return c.Family() == FamilyClarification }

// IsError reports whether the code rejects the stage input.
func (c Code) IsError() bool { return c.Family() == FamilyError }

// Valid reports whether the code belongs to the closed set.
func (c Code) Valid() bool {
	_, ok := defaultNextAction[c]
	return ok
}

// ParseCode validates wire input against the closed code set.
func ParseCode(s string) (Code, error) {
	c := Code(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown verdict code %q", s)
	}
	return c, nil
}
