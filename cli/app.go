package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/board"
)

const (
	configFlag     = "config"
	debugFlag      = "debug"
	logFileFlag    = "log-file"
	noProgressFlag = "no-progress"

	outFlag           = "out"
	widthFlag         = "width"
	heightFlag        = "height"
	marginFlag        = "margin"
	roleFlag          = "role"
	cameraFlag        = "camera"
	countFlag         = "count"
	fromDirFlag       = "from-dir"
	sourceFlag        = "source"
	targetFlag        = "target"
	minImagesFlag     = "min-images"
	fixK3Flag         = "fix-k3"
	fixDistortionFlag = "fix-distortion"
	inFlag            = "in"
	overlayFlag       = "overlay"
	alphaFlag         = "alpha"
	debugGridFlag     = "debug-grid"
	sizeFlag          = "size"
	watchFlag         = "watch"
	undistortFlag     = "undistort"
	framesFlag        = "frames"
	imageFlag         = "image"
	visFlag           = "vis"
	verifyFlag        = "verify"
	sourceCamFlag     = "source-camera"
	targetCamFlag     = "target-camera"
	defaultCaptures   = 20
)

func roleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  sourceFlag,
			Value: "source",
			Usage: "role of the camera whose image is warped",
		},
		&cli.StringFlag{
			Name:  targetFlag,
			Value: "target",
			Usage: "role of the camera whose image plane is the reference",
		},
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "stereocal",
		Usage:           "calibrate two cameras against a ChArUco board and map one onto the other",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"STEREOCAL_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  logFileFlag,
				Usage: "also write logs to the rotating `FILE`",
			},
			&cli.BoolFlag{
				Name:  noProgressFlag,
				Usage: "do not draw progress bars and spinners",
			},
		},
		Before: setupEnv,
		After:  teardownEnv,
		Commands: []*cli.Command{
			{
				Name:   "board",
				Usage:  "render the calibration board for printing",
				Action: BoardAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: outFlag, Value: "charuco_board.png", Usage: "output `FILE`"},
					&cli.IntFlag{Name: widthFlag, Value: board.A4Width300DPI, Usage: "image width in pixels"},
					&cli.IntFlag{Name: heightFlag, Value: board.A4Height300DPI, Usage: "image height in pixels"},
					&cli.IntFlag{Name: marginFlag, Value: board.DefaultMargin, Usage: "blank margin in pixels"},
				},
			},
			{
				Name:            "capture",
				Usage:           "save frames that show the board",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "calib",
						Usage:  "capture calibration images of one camera",
						Action: CaptureCalibrationAction,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: roleFlag, Required: true, Usage: "camera role, used in file names"},
							&cli.IntFlag{Name: cameraFlag, Value: -1, Usage: "device index; defaults to the configured camera of the role"},
							&cli.IntFlag{Name: countFlag, Value: defaultCaptures, Usage: "number of images to save"},
							&cli.StringFlag{Name: fromDirFlag, Usage: "replay images from `DIR` instead of a camera"},
						},
					},
					{
						Name:   "pairs",
						Usage:  "capture synchronized stereo pairs",
						Action: CapturePairsAction,
						Flags: append([]cli.Flag{
							&cli.IntFlag{Name: sourceCamFlag, Value: -1, Usage: "source device index; defaults to the configured camera"},
							&cli.IntFlag{Name: targetCamFlag, Value: -1, Usage: "target device index; defaults to the configured camera"},
							&cli.IntFlag{Name: countFlag, Value: defaultCaptures, Usage: "number of pairs to save"},
							&cli.StringFlag{Name: fromDirFlag, Usage: "replay pair0_/pair1_ images from `DIR`"},
						}, roleFlags()...),
					},
				},
			},
			{
				Name:   "calibrate",
				Usage:  "compute the intrinsics of one camera from its calibration images",
				Action: CalibrateAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: roleFlag, Required: true, Usage: "camera role"},
					&cli.IntFlag{Name: minImagesFlag, Usage: "minimum number of usable images; overrides the config"},
					&cli.BoolFlag{Name: fixK3Flag, Usage: "keep the third radial coefficient at zero"},
					&cli.BoolFlag{Name: fixDistortionFlag, Usage: "estimate a distortion free camera"},
				},
			},
			{
				Name:   "match",
				Usage:  "compute the homography from the source to the target camera from stereo pairs",
				Action: MatchAction,
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: undistortFlag, Usage: "remove lens distortion from the source corners with the stored source intrinsics"},
				}, roleFlags()...),
			},
			{
				Name:   "warp",
				Usage:  "warp source images onto the target image plane",
				Action: WarpAction,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: inFlag, Usage: "image `FILE` or directory to warp"},
					&cli.IntFlag{Name: cameraFlag, Value: -1, Usage: "warp the live frames of this source device index"},
					&cli.StringFlag{Name: fromDirFlag, Usage: "warp the frames replayed from `DIR` like a live source"},
					&cli.IntFlag{Name: framesFlag, Usage: "stop a live warp after this many frames; 0 runs until interrupted"},
					&cli.StringFlag{Name: outFlag, Value: "warped", Usage: "output `DIR`"},
					&cli.StringFlag{Name: overlayFlag, Usage: "target image `FILE` to blend the result over"},
					&cli.Float64Flag{Name: alphaFlag, Value: 0.5, Usage: "overlay opacity of the warped image"},
					&cli.BoolFlag{Name: debugGridFlag, Usage: "also write a source/warped/target/overlay grid"},
					&cli.StringFlag{Name: sizeFlag, Usage: "output size `WxH`; rescales the homography"},
					&cli.BoolFlag{Name: undistortFlag, Usage: "require a homography matched with --undistort"},
					&cli.BoolFlag{Name: watchFlag, Usage: "keep warping images as they appear in the input directory"},
				}, roleFlags()...),
			},
			{
				Name:   "inspect",
				Usage:  "list the stored calibration artifacts",
				Action: InspectAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: verifyFlag, Usage: "check every artifact against its manifest hash"},
				},
			},
			{
				Name:   "diagnose",
				Usage:  "check how much of the board is visible in an image",
				Action: DiagnoseAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: imageFlag, Required: true, Usage: "image `FILE`"},
					&cli.StringFlag{Name: visFlag, Usage: "write an annotated copy to `FILE`"},
				},
			},
		},
	}
}
