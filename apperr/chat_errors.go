package apperr

var (
	ErrNotAuthorized = NotAuthorized("You must be logged in")

	ErrUserNotFound       = NotFound("User not found")
	ErrRequestNotFound    = NotFound("Friend request does not exist")
	ErrInboxNotFound      = NotFound("Conversation not found")
	ErrGroupNotFound      = NotFound("Group not found")
	ErrInvitationNotFound = NotFound("Group invitation does not exist")

	ErrNotRecipient        = Forbidden("You are not the recipient of this request")
	ErrNotRequester        = Forbidden("Only the sender can withdraw this request")
	ErrNotFriendship       = Forbidden("You are not part of this friendship")
	ErrNotGroupLeader      = Forbidden("You are not the leader of this group")
	ErrNotAMember          = Forbidden("You are not a member of this group")
	ErrNotInboxMember      = Forbidden("You are not a member of this conversation")
	ErrNotInvitationSender = Forbidden("You did not send this invitation")

	ErrAlreadyFriends   = Conflict("You are already friends with this user")
	ErrDuplicateRequest = Conflict("Friend request already exists")

	ErrSelfRequest    = Invalid("You cannot send a friend request to yourself")
	ErrEmptyContent   = Invalid("Message content cannot be empty")
	ErrEmptyGroupName = Invalid("Group name cannot be empty")
	ErrNotAGroup      = Invalid("Conversation is not a group")
)
