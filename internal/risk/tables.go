package risk

// defaultServiceRisk is the base score per nmap service name. Cleartext and
// remote-execution protocols sit at the top; their encrypted successors at
// the bottom.
var defaultServiceRisk = map[string]int{
	// 10: remote shells without encryption or real authentication
	"telnet": 10,
	"rlogin": 10,
	"login":  10,
	"rsh":    10,
	"shell":  10,
	"rexec":  10,
	"exec":   10,

	// 9: file transfer and Windows sharing
	"ftp":          9,
	"tftp":         9,
	"smb":          9,
	"microsoft-ds": 9,
	"netbios-ssn":  9,
	"pptp":         9,

	// 8: remote desktops, management and unauthenticated-by-default stores
	"rdp":           8,
	"ms-wbt-server": 8,
	"vnc":           8,
	"snmp":          8,
	"redis":         8,
	"mongodb":       8,
	"memcached":     8,
	"elasticsearch": 8,
	"docker":        8,
	"x11":           8,
	"java-rmi":      8,
	"ipmi":          8,

	// 7: databases
	"mysql":      7,
	"ms-sql-s":   7,
	"oracle":     7,
	"oracle-tns": 7,
	"postgresql": 6,

	// 5-6: cleartext mail
	"pop3": 6,
	"smtp": 5,
	"imap": 5,
	"ldap": 5,
	"nfs":  5,

	// 3-4: common, usually intentional exposure
	"ssh":      4,
	"http":     3,
	"http-alt": 3,
	"domain":   3,
	"ntp":      3,

	// 1-2: encrypted
	"https":    2,
	"ssl/http": 2,
	"imaps":    1,
	"pop3s":    1,
	"smtps":    1,
	"ldaps":    2,
}

// unknownServiceRisk applies when the service is absent or not in the table.
const unknownServiceRisk = 2

// legacyProtocols carry credentials or sessions in cleartext.
var legacyProtocols = map[string]bool{
	"telnet": true,
	"rlogin": true,
	"login":  true,
	"rsh":    true,
	"shell":  true,
	"rexec":  true,
	"exec":   true,
	"ftp":    true,
	"tftp":   true,
	"pop3":   true,
	"imap":   true,
	"snmp":   true,
	"vnc":    true,
	"x11":    true,
}

// defaultBackdoorPorts are ports commonly bound by trojans and reverse
// shells.
var defaultBackdoorPorts = []int{
	1337,
	1524,
	2323,
	4444,
	5554,
	6666,
	6667,
	12345,
	12346,
	20034,
	27374,
	31337,
	54321,
}

const (
	privilegedLow  = 1
	privilegedHigh = 1023
	ephemeralLow   = 49152
	ephemeralHigh  = 65535
)
