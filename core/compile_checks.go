package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ PipelineService = (*Service)(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = YAMLConfigLoader{}
	_ RawConfigLoader = EnvConfigLoader{}
	_ RawConfigLoader = ChainConfigLoader{}
	_ Sender          = SenderFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
