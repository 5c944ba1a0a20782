// Package breakout is a headless paddle-and-bricks environment. It owns the
// simulation and exposes only state vectors, rewards and termination to the
// learner.
package breakout

import "math"

// Field and entity geometry, in pixels.
const (
	Width              = 800
	Height             = 600
	PaddleHeight       = 10
	PaddleWidth        = 75
	PaddleBottomMargin = 50
	PaddleSpeed        = 7
	BallRadius         = 10
	BrickRows          = 5
	BrickColumns       = 8
	BrickWidth         = 75
	BrickHeight        = 20
	BrickPadding       = 10
	BrickOffsetTop     = 60
	BrickOffsetLeft    = 65
	StartLives         = 3

	serveDX = 4
	serveDY = -4
)

// Actions understood by Step.
const (
	ActionLeft = iota
	ActionStay
	ActionRight

	ActionCount
)

// StateSize is the length of the state vector.
const StateSize = 5

// Rewards holds the per-event reward shaping.
type Rewards struct {
	Brick    float64
	Paddle   float64
	LifeLost float64
	Survival float64
}

// DefaultRewards returns the reward shaping used by the trainer.
func DefaultRewards() Rewards {
	return Rewards{Brick: 1, Paddle: 0.1, LifeLost: -1, Survival: 0.01}
}

// StepResult is what the environment returns for one action.
type StepResult struct {
	State  []float64
	Reward float64
	Done   bool
}

type brick struct {
	x, y   float64
	active bool
}

// Game is one breakout session. The zero value is not usable; call New.
type Game struct {
	rewards   Rewards
	maxFrames int

	ballX, ballY   float64
	ballDX, ballDY float64
	paddleX        float64
	ballMoving     bool
	bricks         []brick

	score  int
	lives  int
	frames int
	won    bool
	over   bool
}

// New returns a game that ends an episode after maxFrames steps when
// maxFrames is positive.
func New(rewards Rewards, maxFrames int) *Game {
	g := &Game{rewards: rewards, maxFrames: maxFrames}
	g.Reset()
	return g
}

// Reset starts a new episode and returns the initial state.
func (g *Game) Reset() []float64 {
	g.bricks = g.bricks[:0]
	for c := 0; c < BrickColumns; c++ {
		for r := 0; r < BrickRows; r++ {
			g.bricks = append(g.bricks, brick{
				x:      float64(c*(BrickWidth+BrickPadding) + BrickOffsetLeft),
				y:      float64(r*(BrickHeight+BrickPadding) + BrickOffsetTop),
				active: true,
			})
		}
	}
	g.score, g.lives, g.frames = 0, StartLives, 0
	g.won, g.over = false, false
	g.serve()
	return g.State()
}

func (g *Game) serve() {
	g.ballMoving = false
	g.ballX = Width / 2
	g.ballY = Height - 30 - PaddleBottomMargin
	g.ballDX, g.ballDY = serveDX, serveDY
	g.paddleX = (Width - PaddleWidth) / 2.0
}

// Score returns the number of bricks broken this episode.
func (g *Game) Score() int { return g.score }

// Lives returns the remaining lives.
func (g *Game) Lives() int { return g.lives }

// Frames returns the number of steps taken this episode.
func (g *Game) Frames() int { return g.frames }

// Won reports whether every brick was cleared.
func (g *Game) Won() bool { return g.won }

// State returns the normalized observation. Components are scaled to
// roughly [-1.5, 1.5] but not clamped.
func (g *Game) State() []float64 {
	return []float64{
		g.ballX / Width,
		g.ballY / Height,
		g.paddleX / Width,
		g.ballDX / 4,
		g.ballDY / 4,
	}
}

// Step advances the game by one frame. All reward events of the frame are
// summed and returned together, so a brick break and a lost life can land
// in the same step.
func (g *Game) Step(action int) StepResult {
	if g.over {
		return StepResult{State: g.State(), Done: true}
	}
	g.frames++
	var reward float64

	reward += g.collideBricks()

	if g.ballMoving {
		reward += g.rewards.Survival
		reward += g.moveBall()
	} else {
		g.ballX = g.paddleX + PaddleWidth/2.0
		g.ballY = Height - PaddleHeight - PaddleBottomMargin - BallRadius
		g.ballMoving = true
	}

	if !g.over {
		switch action {
		case ActionRight:
			if g.paddleX < Width-PaddleWidth {
				g.paddleX += PaddleSpeed
			}
		case ActionLeft:
			if g.paddleX > 0 {
				g.paddleX -= PaddleSpeed
			}
		}
	}

	if g.maxFrames > 0 && g.frames >= g.maxFrames {
		g.over = true
	}
	return StepResult{State: g.State(), Reward: reward, Done: g.over}
}

func (g *Game) collideBricks() float64 {
	var reward float64
	for i := range g.bricks {
		b := &g.bricks[i]
		if !b.active {
			continue
		}
		if g.ballX > b.x && g.ballX < b.x+BrickWidth && g.ballY > b.y && g.ballY < b.y+BrickHeight {
			g.ballDY = -g.ballDY
			b.active = false
			g.score++
			reward += g.rewards.Brick
			if g.score == BrickRows*BrickColumns {
				g.won, g.over = true, true
			}
		}
	}
	return reward
}

// moveBall handles wall, paddle and floor contact, then moves the ball.
func (g *Game) moveBall() float64 {
	var reward float64
	if g.ballX+g.ballDX > Width-BallRadius || g.ballX+g.ballDX < BallRadius {
		g.ballDX = -g.ballDX
	}
	if g.ballY+g.ballDY < BallRadius {
		g.ballDY = -g.ballDY
	} else if g.ballY+g.ballDY > Height-BallRadius-PaddleBottomMargin {
		paddleTop := float64(Height - PaddleHeight - PaddleBottomMargin)
		if g.ballX > g.paddleX && g.ballX < g.paddleX+PaddleWidth && g.ballY < paddleTop+BallRadius {
			hit := g.ballX - (g.paddleX + PaddleWidth/2.0)
			angle := hit / (PaddleWidth / 2.0) * (math.Pi / 3)
			speed := math.Hypot(g.ballDX, g.ballDY)
			g.ballDX = speed * math.Sin(angle)
			g.ballDY = -speed * math.Cos(angle)
			reward += g.rewards.Paddle
		} else if g.ballY+g.ballDY > Height-BallRadius {
			g.lives--
			reward += g.rewards.LifeLost
			if g.lives == 0 {
				g.over = true
				return reward
			}
			g.serve()
			return reward
		}
	}
	g.ballX += g.ballDX
	g.ballY += g.ballDY
	return reward
}
