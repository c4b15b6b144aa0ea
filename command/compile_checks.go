package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[AppendMessageMessage]        = (*AppendMessageCommand)(nil)
	_ gocmd.Commander[FinalizeConversationMessage] = (*FinalizeConversationCommand)(nil)
)
