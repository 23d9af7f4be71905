package tags

import "context"

// CodeRecord is the slice of a deployment the matcher reads.
type CodeRecord struct {
	ID       string
	External CodeSet
	Sensor   CodeSet
}

// CodeScanner streams every deployment's code sets ordered by creation
// time, then ID. Scanning stops when fn returns false.
type CodeScanner interface {
	ScanCodes(ctx context.Context, fn func(CodeRecord) bool) error
}

// SplitCandidates turns user input into candidate codes. Input without a
// comma is a single opaque code.
func SplitCandidates(input string) []string {
	return ParseCodeSet(input)
}

// FirstMatch returns the ID of the first deployment whose external or
// sensor codes contain any candidate, or "" when none does. A miss is not
// an error.
func FirstMatch(ctx context.Context, src CodeScanner, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	var found string
	err := src.ScanCodes(ctx, func(r CodeRecord) bool {
		if r.External.Intersects(candidates) || r.Sensor.Intersects(candidates) {
			found = r.ID
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return found, nil
}
