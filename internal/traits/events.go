package traits

import "podium/pkg/domain"

// Events dispatched by traits, in the same namespace as the core lifecycle
// events.
const (
	// EventOnFollow fires on a following entity when it follows a subject.
	EventOnFollow domain.Event = "onFollow"
	// EventOnUnfollow fires on a following entity when it unfollows.
	EventOnUnfollow domain.Event = "onUnfollow"
	// EventOnFollowed fires on a followable entity gaining a follower.
	EventOnFollowed domain.Event = "onFollowed"
	// EventOnUnfollowed fires on a followable entity losing a follower.
	EventOnUnfollowed domain.Event = "onUnfollowed"

	// EventOnReceiveOwnable fires when an owning entity gains an ownable.
	EventOnReceiveOwnable domain.Event = "onReceiveOwnable"
	// EventOnSendOwnable fires when an owning entity transfers one away.
	EventOnSendOwnable domain.Event = "onSendOwnable"

	// EventOnPost fires on a posting entity when a new post is indexed.
	EventOnPost domain.Event = "onPost"
	// EventOnReply fires on a respondable entity when a reply is indexed.
	EventOnReply domain.Event = "onReply"
	// EventOnReact fires on a reactable entity receiving a reaction.
	EventOnReact domain.Event = "onReact"

	// EventOnUpdateProfile fires on a profiled entity when its profile
	// record changes.
	EventOnUpdateProfile domain.Event = "onUpdateProfile"

	// EventOnBalanceChange fires on any wallet balance movement; the gain
	// and loss variants accompany it with the direction.
	EventOnBalanceChange domain.Event = "onBalanceChange"
	EventOnBalanceGain   domain.Event = "onBalanceGain"
	EventOnBalanceLoss   domain.Event = "onBalanceLoss"
)
