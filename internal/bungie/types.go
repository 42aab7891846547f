package bungie

import "time"

// envelope is the standard platform response wrapper. Error fields are
// populated on both 2xx and non-2xx responses.
type envelope[T any] struct {
	Response        T      `json:"Response"`
	ErrorCode       int    `json:"ErrorCode"`
	ErrorStatus     string `json:"ErrorStatus"`
	Message         string `json:"Message"`
	ThrottleSeconds int    `json:"ThrottleSeconds"`
}

// UserInfo identifies a player on a membership platform.
type UserInfo struct {
	MembershipID                string `json:"membershipId"`
	MembershipType              int    `json:"membershipType"`
	IsPublic                    bool   `json:"isPublic"`
	DisplayName                 string `json:"displayName"`
	BungieGlobalDisplayName     string `json:"bungieGlobalDisplayName"`
	BungieGlobalDisplayNameCode int    `json:"bungieGlobalDisplayNameCode"`
}

// Character is one character component from a profile response.
type Character struct {
	CharacterID          string    `json:"characterId"`
	DateLastPlayed       time.Time `json:"dateLastPlayed"`
	EmblemPath           string    `json:"emblemPath"`
	EmblemBackgroundPath string    `json:"emblemBackgroundPath"`
}

// ProfileResponse carries the profile and characters components.
type ProfileResponse struct {
	Profile struct {
		Data struct {
			UserInfo UserInfo `json:"userInfo"`
		} `json:"data"`
	} `json:"profile"`
	Characters struct {
		Data map[string]Character `json:"data"`
	} `json:"characters"`
}

// ActivityDetails identifies one played activity instance.
type ActivityDetails struct {
	ReferenceID int64  `json:"referenceId"` // raw activity definition hash
	InstanceID  string `json:"instanceId"`
	Mode        int    `json:"mode"`
}

// HistoricalActivity is one row of a character's paginated match history.
type HistoricalActivity struct {
	Period          time.Time       `json:"period"`
	ActivityDetails ActivityDetails `json:"activityDetails"`
}

// ActivityHistory is a single page of match history, most recent first.
type ActivityHistory struct {
	Activities []HistoricalActivity `json:"activities"`
}

// BasicValue is the innermost stat representation.
type BasicValue struct {
	Value        float64 `json:"value"`
	DisplayValue string  `json:"displayValue"`
}

// StatValue wraps a single named stat.
type StatValue struct {
	Basic BasicValue `json:"basic"`
}

// EntryValues are the per-entry stats this pipeline consumes.
type EntryValues struct {
	Score                   StatValue `json:"score"`
	Completed               StatValue `json:"completed"`
	CompletionReason        StatValue `json:"completionReason"`
	ActivityDurationSeconds StatValue `json:"activityDurationSeconds"`
}

// PGCREntry is one participant's entry in a post-game carnage report. A
// player with multiple characters in the same match produces multiple entries.
type PGCREntry struct {
	Player struct {
		DestinyUserInfo UserInfo `json:"destinyUserInfo"`
	} `json:"player"`
	Values EntryValues `json:"values"`
}

// PostGameCarnageReport is the full per-match report.
type PostGameCarnageReport struct {
	Period          time.Time       `json:"period"`
	ActivityDetails ActivityDetails `json:"activityDetails"`
	Entries         []PGCREntry     `json:"entries"`
}
