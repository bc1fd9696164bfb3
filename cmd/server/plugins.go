package main

// 引入厂商插件，触发各平台的 init() 完成注册
import (
	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/all"
)
