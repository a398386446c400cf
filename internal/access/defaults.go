package access

// DefaultTable returns the built-in policy. Students need a paid plan for
// feedback generation; admins have no daily cap.
func DefaultTable() Table {
	student := func(daily int64, input, output int) Entry {
		return Entry{Allowed: true, Limits: Limits{DailyRequests: daily, MaxInputChars: input, MaxOutputTokens: output}}
	}
	denied := Entry{Allowed: false}

	instructor := map[Tier]Entry{
		TierFree:     {Allowed: true, Limits: Limits{DailyRequests: 100, MaxInputChars: 8000, MaxOutputTokens: 2048}},
		TierStandard: {Allowed: true, Limits: Limits{DailyRequests: 500, MaxInputChars: 8000, MaxOutputTokens: 2048}},
		TierPremium:  {Allowed: true, Limits: Limits{DailyRequests: 2000, MaxInputChars: 16000, MaxOutputTokens: 4096}},
	}
	admin := map[Tier]Entry{
		TierFree:     {Allowed: true, Limits: Limits{MaxInputChars: 16000, MaxOutputTokens: 4096}},
		TierStandard: {Allowed: true, Limits: Limits{MaxInputChars: 16000, MaxOutputTokens: 4096}},
		TierPremium:  {Allowed: true, Limits: Limits{MaxInputChars: 16000, MaxOutputTokens: 4096}},
	}
	clone := func(m map[Tier]Entry) map[Tier]Entry {
		out := make(map[Tier]Entry, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	return Table{
		FeatureHint: {
			RoleStudent: {
				TierFree:     student(20, 2000, 512),
				TierStandard: student(100, 4000, 1024),
				TierPremium:  student(500, 8000, 2048),
			},
			RoleInstructor: clone(instructor),
			RoleAdmin:      clone(admin),
		},
		FeatureExplanation: {
			RoleStudent: {
				TierFree:     student(10, 2000, 1024),
				TierStandard: student(50, 4000, 2048),
				TierPremium:  student(200, 8000, 4096),
			},
			RoleInstructor: clone(instructor),
			RoleAdmin:      clone(admin),
		},
		FeatureFeedback: {
			RoleStudent: {
				TierFree:     denied,
				TierStandard: student(50, 8000, 1024),
				TierPremium:  student(200, 16000, 2048),
			},
			RoleInstructor: clone(instructor),
			RoleAdmin:      clone(admin),
		},
	}
}
