package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveLogPath(t *testing.T) {
	install := filepath.Join("srv", "ark")
	steam := filepath.Join(install, "steamcmd", "steamapps", "common", "ARK Survival Ascended Dedicated Server",
		"ShooterGame", "Saved", "Logs", "ShooterGame.log")
	legacy := filepath.Join(install, "ShooterGame", "Saved", "Logs", "ShooterGame.log")

	tests := []struct {
		name string
		exe  string
		want string
	}{
		{"steam forward slashes", "srv/ark/steamcmd/steamapps/common/ARK Survival Ascended Dedicated Server/ShooterGame/Binaries/Win64/ArkAscendedServer.exe", steam},
		{"steam backslashes", `C:\ark\steamcmd\steamapps\common\ARK Survival Ascended Dedicated Server\ShooterGame\Binaries\Win64\ArkAscendedServer.exe`, steam},
		{"legacy layout", "srv/ark/ShooterGame/Binaries/Win64/ArkAscendedServer.exe", legacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveLogPath(install, tt.exe))
		})
	}
}
