// Command accountgate manages one client's authenticated session and active
// account role.
package main

import "github.com/swiftdrop/accountgate/cmd/accountgate/cmd"

func main() {
	cmd.Execute()
}
