package game

// Role 秘密身份
type Role byte

const (
	RoleLiberal Role = 1
	RoleFascist Role = 2
	RoleHitler  Role = 3
)

var RoleTypeDictionary = map[Role]string{
	RoleLiberal: "Liberal",
	RoleFascist: "Fascist",
	RoleHitler:  "Hitler",
}

func (r Role) String() string { return RoleTypeDictionary[r] }

// Faction returns the side the role wins with.
func (r Role) Faction() Faction {
	if r == RoleLiberal {
		return FactionLiberal
	}
	return FactionFascist
}

type Faction byte

const (
	FactionNone    Faction = 0
	FactionLiberal Faction = 1
	FactionFascist Faction = 2
)

var FactionTypeDictionary = map[Faction]string{
	FactionNone:    "none",
	FactionLiberal: "Liberals",
	FactionFascist: "Fascists",
}

func (f Faction) String() string { return FactionTypeDictionary[f] }

func (f Faction) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// WinReason names the condition that ended the game.
type WinReason string

const (
	WinLiberalPolicies WinReason = "liberal_policies"
	WinFascistPolicies WinReason = "fascist_policies"
	WinHitlerElected   WinReason = "hitler_elected"
	WinHitlerRemoved   WinReason = "hitler_removed"
)

// Phase 游戏阶段
type Phase byte

const (
	PhaseTypeSetup                    Phase = 0
	PhaseTypePowerCheck               Phase = 1
	PhaseTypePeekDiscussion           Phase = 2
	PhaseTypePeekReflection           Phase = 3
	PhaseTypeRemovalDiscussion        Phase = 4
	PhaseTypeRemovalDecision          Phase = 5
	PhaseTypeRemovalReflection        Phase = 6
	PhaseTypeNomination               Phase = 7
	PhaseTypePostNominationDiscussion Phase = 8
	PhaseTypeVoting                   Phase = 9
	PhaseTypeTally                    Phase = 10
	PhaseTypeReflectionPostVote       Phase = 11
	PhaseTypeLegislativeSession       Phase = 12
	PhaseTypeVetoSession              Phase = 13
	PhaseTypeVetoDiscussion           Phase = 14
	PhaseTypeVetoReflection           Phase = 15
	PhaseTypePostEnactmentDiscussion  Phase = 16
	PhaseTypePostEnactmentReflection  Phase = 17
	PhaseTypePostGameDiscussion       Phase = 18
	PhaseTypePostGameReflection       Phase = 19
	PhaseTypeGameOver                 Phase = 20
)

var PhaseTypeDictionary = map[Phase]string{
	PhaseTypeSetup:                    "setup",
	PhaseTypePowerCheck:               "power_check",
	PhaseTypePeekDiscussion:           "peek_discussion",
	PhaseTypePeekReflection:           "peek_reflection",
	PhaseTypeRemovalDiscussion:        "removal_discussion",
	PhaseTypeRemovalDecision:          "removal_decision",
	PhaseTypeRemovalReflection:        "removal_reflection",
	PhaseTypeNomination:               "nomination",
	PhaseTypePostNominationDiscussion: "post_nomination_discussion",
	PhaseTypeVoting:                   "voting",
	PhaseTypeTally:                    "tally",
	PhaseTypeReflectionPostVote:       "reflection_post_vote",
	PhaseTypeLegislativeSession:       "legislative_session",
	PhaseTypeVetoSession:              "veto_session",
	PhaseTypeVetoDiscussion:           "veto_discussion",
	PhaseTypeVetoReflection:           "veto_reflection",
	PhaseTypePostEnactmentDiscussion:  "post_enactment_discussion",
	PhaseTypePostEnactmentReflection:  "post_enactment_reflection",
	PhaseTypePostGameDiscussion:       "post_game_discussion",
	PhaseTypePostGameReflection:       "post_game_reflection",
	PhaseTypeGameOver:                 "game_over",
}

func (p Phase) String() string { return PhaseTypeDictionary[p] }

// Vote 投票
type Vote byte

const (
	VoteNone Vote = 0
	VoteJa   Vote = 1
	VoteNein Vote = 2
)

var VoteTypeDictionary = map[Vote]string{
	VoteNone: "",
	VoteJa:   "Ja",
	VoteNein: "Nein",
}

func (v Vote) String() string { return VoteTypeDictionary[v] }

// Power is an executive power unlocked by the Fascist track.
type Power byte

const (
	PowerPeek          Power = 1
	PowerFirstRemoval  Power = 2
	PowerSecondRemoval Power = 3
)

var PowerTypeDictionary = map[Power]string{
	PowerPeek:          "peek",
	PowerFirstRemoval:  "first_removal",
	PowerSecondRemoval: "second_removal",
}

func (p Power) String() string { return PowerTypeDictionary[p] }

// Board thresholds.
const (
	PlayerCount = 5

	LiberalWinCount = 5
	FascistWinCount = 6

	HitlerElectionThreshold = 3
	PeekThreshold           = 3
	FirstRemovalThreshold   = 4
	SecondRemovalThreshold  = 5
	VetoThreshold           = 5

	TrackerLimit = 3
)

func (p Power) threshold() int {
	switch p {
	case PowerPeek:
		return PeekThreshold
	case PowerFirstRemoval:
		return FirstRemovalThreshold
	case PowerSecondRemoval:
		return SecondRemovalThreshold
	}
	return -1
}

// Decision tokens besides player names and policy names.
const (
	decisionVeto     = "Veto"
	decisionAgree    = "Agree"
	decisionDisagree = "Disagree"
	decisionNone     = "na"
)
