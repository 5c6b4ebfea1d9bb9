package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCommand marks commands the registry cannot parse. The handler
// logs these and keeps the connection open.
var ErrMalformedCommand = errors.New("protocol: malformed command")

// Command is the parsed form of one control-channel command. Exactly one
// field is set; handlers dispatch with an exhaustive switch so an unknown
// command can never fall through to the wrong branch.
type Command struct {
	Join       *JoinCommand
	Login      *LoginCommand
	Logout     *LogoutCommand
	Search     *SearchCommand
	Print      *PrintCommand
	PrintRooms *PrintRoomsCommand
	CreateRoom *CreateRoomCommand
	JoinRoom   *JoinRoomCommand
	LeaveRoom  *LeaveRoomCommand
	PortNumber *PortNumberCommand
}

// JoinCommand registers a new account. PasswordHash is hashed client-side so
// the registry never sees the plaintext at registration.
type JoinCommand struct {
	Username     string
	PasswordHash string
}

func (c *JoinCommand) Encode() string {
	return "JOIN " + c.Username + " " + c.PasswordHash
}

// LoginCommand authenticates an account and announces the peer's listener port.
type LoginCommand struct {
	Username    string
	Password    string
	ControlPort int
}

func (c *LoginCommand) Encode() string {
	return "LOGIN " + c.Username + " " + c.Password + " " + strconv.Itoa(c.ControlPort)
}

// LogoutCommand ends a session. Username may be empty when the peer never
// logged in and is just closing the connection.
type LogoutCommand struct {
	Username string
}

func (c *LogoutCommand) Encode() string {
	if c.Username == "" {
		return "LOGOUT"
	}
	return "LOGOUT " + c.Username
}

// SearchCommand looks up an online peer's endpoint.
type SearchCommand struct {
	Username string
}

func (c *SearchCommand) Encode() string {
	return "SEARCH " + c.Username
}

// PrintCommand requests a snapshot of online usernames.
type PrintCommand struct{}

func (c *PrintCommand) Encode() string { return "PRINT" }

// PrintRoomsCommand requests the list of room names.
type PrintRoomsCommand struct{}

func (c *PrintRoomsCommand) Encode() string { return "PRINT_CHATROOMS" }

// CreateRoomCommand creates a room idempotently.
type CreateRoomCommand struct {
	Room string
}

func (c *CreateRoomCommand) Encode() string {
	return "CREATE " + c.Room
}

// JoinRoomCommand adds the sender to a room, announcing the endpoints other
// members should use to reach it.
type JoinRoomCommand struct {
	Room         string
	Username     string
	IP           string
	ControlPort  int
	DatagramPort int
}

func (c *JoinRoomCommand) Encode() string {
	return fmt.Sprintf("JOIN-ROOM %s %s %s %d %d", c.Room, c.Username, c.IP, c.ControlPort, c.DatagramPort)
}

// LeaveRoomCommand removes the sender from a room.
type LeaveRoomCommand struct {
	Room     string
	Username string
}

func (c *LeaveRoomCommand) Encode() string {
	return "LEAVE " + c.Room + " " + c.Username
}

// PortNumberCommand asks the registry for the datagram port it recorded from
// this session's first heartbeat.
type PortNumberCommand struct{}

func (c *PortNumberCommand) Encode() string { return "PORTNUMBER" }

// ParseCommand parses one space-delimited command line into its typed form.
// It is the only place command text is interpreted; everything past it works
// with parsed values.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedCommand)
	}

	switch fields[0] {
	case "JOIN":
		if len(fields) != 3 {
			return nil, arityErr(fields[0], 2, len(fields)-1)
		}
		return &Command{Join: &JoinCommand{Username: fields[1], PasswordHash: fields[2]}}, nil

	case "LOGIN":
		if len(fields) != 4 {
			return nil, arityErr(fields[0], 3, len(fields)-1)
		}
		port, err := parsePort(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: LOGIN: %v", ErrMalformedCommand, err)
		}
		return &Command{Login: &LoginCommand{Username: fields[1], Password: fields[2], ControlPort: port}}, nil

	case "LOGOUT":
		if len(fields) > 2 {
			return nil, arityErr(fields[0], 1, len(fields)-1)
		}
		cmd := &LogoutCommand{}
		if len(fields) == 2 {
			cmd.Username = fields[1]
		}
		return &Command{Logout: cmd}, nil

	case "SEARCH":
		if len(fields) != 2 {
			return nil, arityErr(fields[0], 1, len(fields)-1)
		}
		return &Command{Search: &SearchCommand{Username: fields[1]}}, nil

	case "PRINT":
		if len(fields) != 1 {
			return nil, arityErr(fields[0], 0, len(fields)-1)
		}
		return &Command{Print: &PrintCommand{}}, nil

	case "PRINT_CHATROOMS":
		if len(fields) != 1 {
			return nil, arityErr(fields[0], 0, len(fields)-1)
		}
		return &Command{PrintRooms: &PrintRoomsCommand{}}, nil

	case "CREATE":
		if len(fields) != 2 {
			return nil, arityErr(fields[0], 1, len(fields)-1)
		}
		return &Command{CreateRoom: &CreateRoomCommand{Room: fields[1]}}, nil

	case "JOIN-ROOM":
		if len(fields) != 6 {
			return nil, arityErr(fields[0], 5, len(fields)-1)
		}
		controlPort, err := parsePort(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%w: JOIN-ROOM: %v", ErrMalformedCommand, err)
		}
		datagramPort, err := parsePort(fields[5])
		if err != nil {
			return nil, fmt.Errorf("%w: JOIN-ROOM: %v", ErrMalformedCommand, err)
		}
		return &Command{JoinRoom: &JoinRoomCommand{
			Room:         fields[1],
			Username:     fields[2],
			IP:           fields[3],
			ControlPort:  controlPort,
			DatagramPort: datagramPort,
		}}, nil

	case "LEAVE":
		if len(fields) != 3 {
			return nil, arityErr(fields[0], 2, len(fields)-1)
		}
		return &Command{LeaveRoom: &LeaveRoomCommand{Room: fields[1], Username: fields[2]}}, nil

	case "PORTNUMBER":
		if len(fields) != 1 {
			return nil, arityErr(fields[0], 0, len(fields)-1)
		}
		return &Command{PortNumber: &PortNumberCommand{}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown verb %q", ErrMalformedCommand, fields[0])
	}
}

func arityErr(verb string, want, got int) error {
	return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMalformedCommand, verb, want, got)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
