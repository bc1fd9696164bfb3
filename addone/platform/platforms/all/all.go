// Package all 导入全部内置设备插件
package all

import (
	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/apresia"
	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/cisco"
)
