package display

// Tee fans every call out to each non-nil renderer in order. It returns nil
// when none are given, so the widget stays unconfigured.
func Tee(renderers ...Renderer) Renderer {
	var out tee
	for _, r := range renderers {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

type tee []Renderer

func (t tee) SetLoading() {
	for _, r := range t {
		r.SetLoading()
	}
}

func (t tee) SetTotal(n int64) {
	for _, r := range t {
		r.SetTotal(n)
	}
}

func (t tee) SetFailure(reason string) {
	for _, r := range t {
		r.SetFailure(reason)
	}
}
