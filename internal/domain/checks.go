package domain

// Auto-QC check names, listed in the order the rule chain evaluates them.
const (
	CheckPctQ30           = "pct_q30"
	CheckFastQC           = "fastqc"
	CheckContamination    = "contamination"
	CheckNTCContamination = "ntc_contamination"
	CheckSexMatch         = "sex_match"
)

// CheckOrder is the fixed declaration order of auto-QC checks.
var CheckOrder = []string{
	CheckPctQ30,
	CheckFastQC,
	CheckContamination,
	CheckNTCContamination,
	CheckSexMatch,
}

func IsKnownCheck(name string) bool {
	for _, known := range CheckOrder {
		if known == name {
			return true
		}
	}
	return false
}
