package sharedutil

// FilterSlice returns the elements of ss for which test is true.
func FilterSlice[T any](ss []T, test func(T) bool) []T {
	if ss == nil {
		return nil
	}
	result := make([]T, 0, len(ss))
	for _, s := range ss {
		if test(s) {
			result = append(result, s)
		}
	}
	return result
}

func MapSlice[T, U any](ts []T, f func(T) U) []U {
	if ts == nil {
		return nil
	}
	us := make([]U, len(ts))
	for i, t := range ts {
		us[i] = f(t)
	}
	return us
}

// FilterMapSlice maps ts through f, keeping only results f accepts.
func FilterMapSlice[T, U any](ts []T, f func(T) (U, bool)) []U {
	if ts == nil {
		return nil
	}
	us := make([]U, 0, len(ts))
	for _, t := range ts {
		if u, ok := f(t); ok {
			us = append(us, u)
		}
	}
	return us
}
