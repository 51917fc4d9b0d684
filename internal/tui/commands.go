package tui

import (
	"errors"
	"strings"
)

type commandKind int

const (
	cmdBroadcast commandKind = iota
	cmdDirect
	cmdFriend
	cmdAccept
	cmdReject
	cmdConnect
	cmdQuit
)

type command struct {
	kind commandKind
	arg  string
	text string
}

var errUsage = errors.New("usage: /dm <friend> <text> | /friend <peer> | /accept <id> | /reject <id> | /connect <peer> | /quit")

// parseCommand turns an input line into a command. Lines without a leading
// slash are broadcasts; "//" escapes a literal slash.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdBroadcast, text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return command{kind: cmdBroadcast, text: line[1:]}, nil
	}
	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "dm", "msg":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return command{}, errUsage
		}
		return command{kind: cmdDirect, arg: target, text: text}, nil
	case "friend", "add":
		return withArg(cmdFriend, rest)
	case "accept":
		return withArg(cmdAccept, rest)
	case "reject":
		return withArg(cmdReject, rest)
	case "connect":
		return withArg(cmdConnect, rest)
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, errUsage
}

func withArg(kind commandKind, arg string) (command, error) {
	if arg == "" || strings.Contains(arg, " ") {
		return command{}, errUsage
	}
	return command{kind: kind, arg: arg}, nil
}
