package killmail

import "wandererkills/internal/wkerrors"

var (
	errAttackersEmpty = wkerrors.New(wkerrors.KindValidation, "killmail has no attackers").
		WithContext("field", "attackers")
	errFinalBlowCount = wkerrors.New(wkerrors.KindValidation, "killmail must have exactly one final blow").
		WithContext("field", "attackers[].final_blow")
)
