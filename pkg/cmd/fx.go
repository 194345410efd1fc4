package cmd

import "go.uber.org/fx"

var Module = fx.Module("cli",
	fx.Provide(
		NewState,
		fx.Annotate(baseline, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(clean, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(drift, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(info, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(initCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(migrate, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(repair, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(simulate, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(snapshot, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(undo, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(validate, fx.ResultTags(`group:"commands"`)),
	),
	fx.Invoke(Run),
)
