package room

// WelcomeDocument is the document every newly created room starts with.
const WelcomeDocument = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Link Coding Session</title>
    <style>
        body {
            font-family: 'Inter', system-ui, sans-serif;
            margin: 0;
            padding: 2rem;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .container {
            background: white;
            padding: 2rem;
            border-radius: 12px;
            box-shadow: 0 20px 40px rgba(0,0,0,0.1);
            text-align: center;
            max-width: 500px;
        }
        h1 {
            color: #1e293b;
            margin-bottom: 1rem;
            font-size: 2.5rem;
        }
        p {
            color: #64748b;
            margin-bottom: 2rem;
            font-size: 1.1rem;
        }
        button {
            background: linear-gradient(45deg, #3b82f6, #1e40af);
            color: white;
            border: none;
            padding: 12px 24px;
            border-radius: 8px;
            font-size: 1rem;
            cursor: pointer;
            transition: transform 0.2s;
        }
        button:hover {
            transform: translateY(-2px);
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Welcome to Link!</h1>
        <p>Start collaborating with your team in real-time.</p>
        <button onclick="celebrate()">Click me!</button>
    </div>

    <script>
        function celebrate() {
            const button = event.target;
            button.textContent = 'Amazing! 🎉';
            button.style.background = 'linear-gradient(45deg, #10B981, #059669)';

            setTimeout(() => {
                button.textContent = 'Click me!';
                button.style.background = 'linear-gradient(45deg, #3b82f6, #1e40af)';
            }, 2000);
        }
    </script>
</body>
</html>`
