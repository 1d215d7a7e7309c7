package validator

import (
	"github.com/erp-fd/erp-processing-context/repository"
)

// profileSolver resolves require-one profile sets: an element whose
// definition lists several allowed profiles validates when any one of
// them validates without error. Results of the surviving candidates are
// collected; once all candidates failed, the failure results are
// reported instead.
type profileSolver struct {
	failed  bool
	solvers []*requireOneSolver
}

type requireOneSolver struct {
	failed bool
	good   map[repository.MapKey]*validationData
	bad    map[repository.MapKey]*validationData
}

func (s *profileSolver) requireOne(profileData map[repository.MapKey]*validationData) {
	if len(profileData) == 0 {
		panic("validator: requireOne profile-set must not be empty")
	}
	s.solvers = append(s.solvers, &requireOneSolver{
		good: profileData,
		bad:  make(map[repository.MapKey]*validationData),
	})
}

// fail marks the candidate identified by key as failed in every solver.
// The return value reports whether the whole solver set is now failed.
func (s *profileSolver) fail(key repository.MapKey) bool {
	for _, solver := range s.solvers {
		if !solver.fail(key) {
			continue
		}
		s.failed = true
	}
	return s.failed
}

func (s *profileSolver) isFailed() bool { return s.failed }

func (s *profileSolver) merge(other *profileSolver) {
	s.solvers = append(s.solvers, other.solvers...)
}

// collectResults gathers the surviving candidates' findings (or, after
// total failure, the failed ones so the caller sees why).
func (s *profileSolver) collectResults() Results {
	var out Results
	for _, solver := range s.solvers {
		out.Append(solver.collectResults())
	}
	return out
}

func (o *requireOneSolver) fail(key repository.MapKey) bool {
	if data, ok := o.good[key]; ok {
		delete(o.good, key)
		o.bad[key] = data
		o.failed = len(o.good) == 0
	}
	return o.failed
}

func (o *requireOneSolver) collectResults() Results {
	var out Results
	source := o.good
	if o.failed {
		source = o.bad
	}
	for _, key := range sortedDataKeys(source) {
		out.Append(source[key].results)
	}
	return out
}

func sortedDataKeys(m map[repository.MapKey]*validationData) []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}

func sortMapKeys(keys []repository.MapKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessMapKey(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func lessMapKey(a, b repository.MapKey) bool {
	if a.ProfileKey != b.ProfileKey {
		return a.ProfileKey < b.ProfileKey
	}
	if a.ElementName != b.ElementName {
		return a.ElementName < b.ElementName
	}
	return a.SliceName < b.SliceName
}
