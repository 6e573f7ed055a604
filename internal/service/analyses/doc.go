// Package analyses drives run analyses through observation, evaluation and
// manual signoff.
//
// States (derived from persisted fields, see lifecycle.Derive):
//   - pending -> auto_evaluated -> manually_approved | manually_rejected
//   - pending | auto_evaluated -> archived
//   - manually_* | archived -> pending (reset)
//
// Evaluate computes every flag and the verdict before writing anything. A
// metric extraction error aborts the evaluation and leaves the persisted
// flags untouched. Successful writes emit exactly one run analysis audit
// event in the same transaction.
package analyses
