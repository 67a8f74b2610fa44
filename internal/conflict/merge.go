package conflict

import "sync-service/pkg/models"

// mergeRecords combines existing and incoming per the merge strategy.
// Inputs are never mutated.
func mergeRecords(existing, incoming models.Record, strategy MergeStrategy) models.Record {
	out := existing.Clone()
	if out == nil {
		out = models.Record{}
	}

	for k, inV := range incoming {
		if ignoredFields[k] {
			continue
		}
		exV, present := out[k]

		switch strategy {
		case MergePreferExisting:
			if !present || exV == nil {
				out[k] = inV
			}

		case MergePreferIncoming:
			if inV != nil {
				out[k] = inV
			}

		case MergeCombine:
			out[k] = combineValues(exV, inV)
		}
	}
	return out
}

// combineValues unions arrays, concatenates differing strings, and otherwise
// prefers the incoming value.
func combineValues(existing, incoming any) any {
	if existing == nil {
		return incoming
	}
	if incoming == nil {
		return existing
	}

	exArr, exIsArr := existing.([]any)
	inArr, inIsArr := incoming.([]any)
	if exIsArr && inIsArr {
		union := make([]any, 0, len(exArr)+len(inArr))
		union = append(union, exArr...)
		for _, v := range inArr {
			dup := false
			for _, u := range union {
				if valuesEqual(u, v) {
					dup = true
					break
				}
			}
			if !dup {
				union = append(union, v)
			}
		}
		return union
	}

	exStr, exIsStr := existing.(string)
	inStr, inIsStr := incoming.(string)
	if exIsStr && inIsStr {
		if exStr == inStr || inStr == "" {
			return exStr
		}
		if exStr == "" {
			return inStr
		}
		return exStr + " " + inStr
	}

	return incoming
}
