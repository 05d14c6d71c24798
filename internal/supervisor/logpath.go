package supervisor

import (
	"path/filepath"
	"strings"
)

// steamLayout marks servers installed through SteamCMD under the install dir.
const steamLayout = "steamapps/common/ARK Survival Ascended Dedicated Server"

// ResolveLogPath returns where the server writes ShooterGame.log. SteamCMD
// installs keep the game under <install>/steamcmd/steamapps/common/...; older
// layouts have ShooterGame directly under the install dir.
func ResolveLogPath(installPath, executable string) string {
	exe := strings.ReplaceAll(executable, `\`, "/")
	if strings.Contains(exe, steamLayout) {
		return filepath.Join(installPath, "steamcmd", filepath.FromSlash(steamLayout),
			"ShooterGame", "Saved", "Logs", "ShooterGame.log")
	}
	return filepath.Join(installPath, "ShooterGame", "Saved", "Logs", "ShooterGame.log")
}
