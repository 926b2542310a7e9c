package types

// Clone returns a deep copy of the claim. The store hands out and accepts
// copies so callers can never alias its records.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c

	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.Stealable != nil {
		s := *c.Stealable
		out.Stealable = &s
	}
	if c.Blocked != nil {
		b := *c.Blocked
		out.Blocked = &b
	}
	if c.Handoff != nil {
		h := *c.Handoff
		if c.Handoff.ExpiresAt != nil {
			t := *c.Handoff.ExpiresAt
			h.ExpiresAt = &t
		}
		out.Handoff = &h
	}
	if c.Contest != nil {
		ct := *c.Contest
		if c.Contest.Resolution != nil {
			r := *c.Contest.Resolution
			ct.Resolution = &r
		}
		out.Contest = &ct
	}
	if c.Notes != nil {
		out.Notes = append([]Note(nil), c.Notes...)
	}
	if c.StatusHistory != nil {
		out.StatusHistory = append([]StatusChange(nil), c.StatusHistory...)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.Claimant.Capabilities != nil {
		out.Claimant.Capabilities = append([]string(nil), c.Claimant.Capabilities...)
	}
	return &out
}
